package feed

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"
)

// 行情报文类型码
const (
	FeedCodeIndex      = 1
	FeedCodeTicker     = 2
	FeedCodeQuote      = 4
	FeedCodePrevClose  = 6
	FeedCodeFull       = 8
	FeedCodeDisconnect = 50
)

const headerSize = 8

// Tick 一条逐笔行情
type Tick struct {
	SecurityID string
	Segment    uint8
	LTP        float64
	Time       time.Time
}

// header 二进制报文头（小端）：
//
//	offset 0  u8  报文类型码
//	offset 1  u16 报文总长度
//	offset 3  u8  交易所分段
//	offset 4  u32 合约 ID
type header struct {
	feedCode   uint8
	msgLen     uint16
	segment    uint8
	securityID uint32
}

func parseHeader(data []byte) (header, error) {
	if len(data) < headerSize {
		return header{}, errors.Errorf("报文过短: %d 字节", len(data))
	}
	return header{
		feedCode:   data[0],
		msgLen:     binary.LittleEndian.Uint16(data[1:3]),
		segment:    data[3],
		securityID: binary.LittleEndian.Uint32(data[4:8]),
	}, nil
}

// DecodeTicker 解析一个二进制帧。只关心 ticker 报文（LTP + 成交时间），
// 其余类型返回 (nil, nil) 直接跳过。
func DecodeTicker(data []byte) (*Tick, error) {
	h, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	if h.feedCode != FeedCodeTicker {
		return nil, nil
	}
	// ticker 负载: f32 LTP + i32 epoch 秒
	if len(data) < headerSize+8 {
		return nil, errors.Errorf("ticker 负载过短: %d 字节", len(data))
	}
	ltp := math.Float32frombits(binary.LittleEndian.Uint32(data[headerSize : headerSize+4]))
	epoch := int32(binary.LittleEndian.Uint32(data[headerSize+4 : headerSize+8]))
	return &Tick{
		SecurityID: formatSecurityID(h.securityID),
		Segment:    h.segment,
		LTP:        float64(ltp),
		Time:       time.Unix(int64(epoch), 0),
	}, nil
}

// IsDisconnect 判断是否服务端主动断开报文
func IsDisconnect(data []byte) bool {
	return len(data) >= 1 && data[0] == FeedCodeDisconnect
}

func formatSecurityID(id uint32) string {
	// 等价于 strconv.FormatUint，但避免到处转 uint64
	if id == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = byte('0' + id%10)
		id /= 10
	}
	return string(buf[i:])
}
