package catalog

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/scalpbot/goscalp/internal/domain"
	"github.com/scalpbot/goscalp/pkg/cache"
	"github.com/scalpbot/goscalp/pkg/logger"
)

// Options 目录配置
type Options struct {
	MasterURL string
	DataDir   string
	Location  *time.Location
}

// Catalog 合约目录：下载当日 instrument master，解析出期权链。
type Catalog struct {
	opts   Options
	http   *resty.Client
	chains *cache.InMemoryCache[string, *Chain]
}

// New 创建目录
func New(opts Options) *Catalog {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Catalog{
		opts: opts,
		http: resty.New().SetTimeout(120 * time.Second),
		// 解析一次几十 MB 的 master 比较贵，按标的缓存一刻钟
		chains: cache.NewInMemoryCache[string, *Chain](15 * time.Minute),
	}
}

// Chain 某标的最近到期日的期权链
type Chain struct {
	Underlying string
	Expiry     time.Time
	CE         map[float64]domain.Instrument // strike -> 合约
	PE         map[float64]domain.Instrument
}

// Strikes 返回某一侧的全部行权价（升序）
func (c *Chain) Strikes(ot domain.OptionType) []float64 {
	side := c.CE
	if ot == domain.OptionPE {
		side = c.PE
	}
	out := make([]float64, 0, len(side))
	for k := range side {
		out = append(out, k)
	}
	sort.Float64s(out)
	return out
}

// At 取某一侧指定行权价的合约
func (c *Chain) At(ot domain.OptionType, strike float64) (domain.Instrument, bool) {
	side := c.CE
	if ot == domain.OptionPE {
		side = c.PE
	}
	inst, ok := side[strike]
	return inst, ok
}

// ATMStrike 距离现价最近的行权价
func (c *Chain) ATMStrike(ot domain.OptionType, spot float64) (float64, bool) {
	strikes := c.Strikes(ot)
	if len(strikes) == 0 {
		return 0, false
	}
	best := strikes[0]
	for _, k := range strikes[1:] {
		if abs(k-spot) < abs(best-spot) {
			best = k
		}
	}
	return best, true
}

// Select 选出 ATM + 各侧 depth 档 ITM 的合约，作为订阅与交易候选。
// CE 的 ITM 在现价下方，PE 的 ITM 在现价上方。
func (c *Chain) Select(spot float64, depth int) (ce, pe []domain.Instrument, err error) {
	ceATM, ok1 := c.ATMStrike(domain.OptionCE, spot)
	peATM, ok2 := c.ATMStrike(domain.OptionPE, spot)
	if !ok1 || !ok2 {
		return nil, nil, errors.Errorf("%s 期权链为空", c.Underlying)
	}

	ceStrikes := c.Strikes(domain.OptionCE)
	peStrikes := c.Strikes(domain.OptionPE)

	pick := func(strikes []float64, atm float64, lower bool) []float64 {
		idx := sort.SearchFloat64s(strikes, atm)
		out := []float64{atm}
		for d := 1; d <= depth; d++ {
			var i int
			if lower {
				i = idx - d
			} else {
				i = idx + d
			}
			if i < 0 || i >= len(strikes) {
				break
			}
			out = append(out, strikes[i])
		}
		return out
	}

	for _, k := range pick(ceStrikes, ceATM, true) {
		if inst, ok := c.At(domain.OptionCE, k); ok {
			ce = append(ce, inst)
		}
	}
	for _, k := range pick(peStrikes, peATM, false) {
		if inst, ok := c.At(domain.OptionPE, k); ok {
			pe = append(pe, inst)
		}
	}
	if len(ce) == 0 || len(pe) == 0 {
		return nil, nil, errors.Errorf("%s 选不出可交易合约", c.Underlying)
	}
	return ce, pe, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// masterPath 当日缓存文件路径
func (c *Catalog) masterPath(day time.Time) string {
	return filepath.Join(c.opts.DataDir, fmt.Sprintf("scrip_master_%s.csv", day.Format("2006-01-02")))
}

// EnsureMaster 确保当日 master 文件已落地，返回文件路径。
// 当天已下载过就直接复用，开盘前重启不必重复拉几十 MB。
func (c *Catalog) EnsureMaster(ctx context.Context) (string, error) {
	day := time.Now().In(c.opts.Location)
	path := c.masterPath(day)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(c.opts.DataDir, 0o755); err != nil {
		return "", errors.Wrap(err, "创建数据目录失败")
	}
	log := logger.WithField("component", "catalog")
	log.Infof("⬇️ 下载 instrument master: %s", c.opts.MasterURL)
	resp, err := c.http.R().SetContext(ctx).SetOutput(path).Get(c.opts.MasterURL)
	if err != nil {
		return "", errors.Wrap(err, "下载 instrument master 失败")
	}
	if resp.IsError() {
		_ = os.Remove(path)
		return "", errors.Errorf("下载 instrument master 失败: http=%d", resp.StatusCode())
	}
	log.Infof("✅ instrument master 已缓存: %s", path)
	return path, nil
}

// LoadChain 解析 master，取某标的最近到期日的期权链。同一标的短期内重复调用走缓存。
func (c *Catalog) LoadChain(ctx context.Context, exchange, underlying string) (*Chain, error) {
	key := exchange + "/" + underlying
	if chain, ok := c.chains.Get(key); ok {
		return chain, nil
	}
	path, err := c.EnsureMaster(ctx)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "打开 instrument master 失败")
	}
	defer f.Close()
	chain, err := parseChain(f, exchange, underlying, time.Now().In(c.opts.Location))
	if err != nil {
		return nil, err
	}
	c.chains.Set(key, chain, 0)
	return chain, nil
}

// master CSV 的列名（detailed scrip master）
const (
	colExchange     = "EXCH_ID"
	colSegment      = "SEGMENT"
	colSecurityID   = "SECURITY_ID"
	colUnderlying   = "UNDERLYING_SYMBOL"
	colUnderlyingID = "UNDERLYING_SECURITY_ID"
	colDisplay      = "DISPLAY_NAME"
	colInstrument   = "INSTRUMENT"
	colLotSize      = "LOT_SIZE"
	colExpiry       = "SM_EXPIRY_DATE"
	colStrike       = "STRIKE_PRICE"
	colOptionType   = "OPTION_TYPE"
)

func parseChain(r io.Reader, exchange, underlying string, today time.Time) (*Chain, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // master 偶有列数漂移，逐行校验
	head, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "读取 CSV 表头失败")
	}
	col := make(map[string]int, len(head))
	for i, name := range head {
		col[strings.TrimSpace(name)] = i
	}
	for _, need := range []string{colExchange, colSecurityID, colUnderlying, colLotSize, colExpiry, colStrike, colOptionType} {
		if _, ok := col[need]; !ok {
			return nil, errors.Errorf("master 缺少列 %s", need)
		}
	}
	get := func(rec []string, name string) string {
		i := col[name]
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	dayStart := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())
	chain := &Chain{
		Underlying: underlying,
		CE:         make(map[float64]domain.Instrument),
		PE:         make(map[float64]domain.Instrument),
	}
	var nearest time.Time
	type row struct {
		inst   domain.Instrument
		expiry time.Time
	}
	var rows []row

	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "读取 CSV 行失败")
		}
		if !strings.EqualFold(get(rec, colExchange), exchange) {
			continue
		}
		if !strings.EqualFold(get(rec, colUnderlying), underlying) {
			continue
		}
		ot := domain.OptionType(strings.ToUpper(get(rec, colOptionType)))
		if !ot.Valid() {
			continue
		}
		expiry, err := time.ParseInLocation("2006-01-02", get(rec, colExpiry), today.Location())
		if err != nil || expiry.Before(dayStart) {
			continue
		}
		strike, err := strconv.ParseFloat(get(rec, colStrike), 64)
		if err != nil || strike <= 0 {
			continue
		}
		lot, _ := strconv.ParseInt(get(rec, colLotSize), 10, 64)
		rows = append(rows, row{
			inst: domain.Instrument{
				SecurityID:   get(rec, colSecurityID),
				DisplayName:  get(rec, colDisplay),
				StrikePrice:  strike,
				OptionType:   ot,
				UnderlyingID: get(rec, colUnderlyingID),
				LotSize:      lot,
			},
			expiry: expiry,
		})
		if nearest.IsZero() || expiry.Before(nearest) {
			nearest = expiry
		}
	}
	if nearest.IsZero() {
		return nil, errors.Errorf("master 中找不到 %s/%s 的未到期期权", exchange, underlying)
	}
	chain.Expiry = nearest
	for _, r := range rows {
		if !r.expiry.Equal(nearest) {
			continue
		}
		if r.inst.OptionType == domain.OptionCE {
			chain.CE[r.inst.StrikePrice] = r.inst
		} else {
			chain.PE[r.inst.StrikePrice] = r.inst
		}
	}
	logger.WithField("component", "catalog").Infof("🔗 期权链已加载: %s 到期 %s，CE=%d PE=%d",
		underlying, nearest.Format("2006-01-02"), len(chain.CE), len(chain.PE))
	return chain, nil
}
