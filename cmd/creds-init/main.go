// creds-init 把环境变量里的经纪商凭证写进本地 secretstore，
// 之后 scalper 运行时不再需要明文 token。
//
// 用法:
//
//	DHAN_CLIENT_ID=xxx DHAN_ACCESS_TOKEN=yyy creds-init -path data/secrets
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/scalpbot/goscalp/pkg/secretstore"
)

func main() {
	_ = godotenv.Load()

	path := flag.String("path", "data/secrets", "secretstore 目录")
	flag.Parse()

	clientID := os.Getenv("DHAN_CLIENT_ID")
	accessToken := os.Getenv("DHAN_ACCESS_TOKEN")
	if clientID == "" || accessToken == "" {
		fmt.Fprintln(os.Stderr, "需要设置 DHAN_CLIENT_ID 和 DHAN_ACCESS_TOKEN")
		os.Exit(1)
	}

	store, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *path,
		EncryptionKey: []byte(os.Getenv("SCALPER_SECRET_KEY")),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "打开 secretstore 失败: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.Set(secretstore.KeyClientID, clientID); err != nil {
		fmt.Fprintf(os.Stderr, "写入 client id 失败: %v\n", err)
		os.Exit(1)
	}
	if err := store.Set(secretstore.KeyAccessToken, accessToken); err != nil {
		fmt.Fprintf(os.Stderr, "写入 access token 失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("凭证已写入 %s\n", *path)
}
