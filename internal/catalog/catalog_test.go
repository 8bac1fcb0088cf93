package catalog

import (
	"strings"
	"testing"
	"time"

	"github.com/scalpbot/goscalp/internal/domain"
)

const masterFixture = `EXCH_ID,SEGMENT,SECURITY_ID,UNDERLYING_SECURITY_ID,UNDERLYING_SYMBOL,DISPLAY_NAME,INSTRUMENT,LOT_SIZE,SM_EXPIRY_DATE,STRIKE_PRICE,OPTION_TYPE
NSE,D,1001,13,NIFTY,NIFTY 04 SEP 24900 CALL,OPTIDX,75,2026-09-04,24900,CE
NSE,D,1002,13,NIFTY,NIFTY 04 SEP 24950 CALL,OPTIDX,75,2026-09-04,24950,CE
NSE,D,1003,13,NIFTY,NIFTY 04 SEP 25000 CALL,OPTIDX,75,2026-09-04,25000,CE
NSE,D,1004,13,NIFTY,NIFTY 04 SEP 25050 CALL,OPTIDX,75,2026-09-04,25050,CE
NSE,D,2001,13,NIFTY,NIFTY 04 SEP 24950 PUT,OPTIDX,75,2026-09-04,24950,PE
NSE,D,2002,13,NIFTY,NIFTY 04 SEP 25000 PUT,OPTIDX,75,2026-09-04,25000,PE
NSE,D,2003,13,NIFTY,NIFTY 04 SEP 25050 PUT,OPTIDX,75,2026-09-04,25050,PE
NSE,D,2004,13,NIFTY,NIFTY 04 SEP 25100 PUT,OPTIDX,75,2026-09-04,25100,PE
NSE,D,3001,13,NIFTY,NIFTY 11 SEP 25000 CALL,OPTIDX,75,2026-09-11,25000,CE
NSE,D,3002,13,NIFTY,NIFTY 11 SEP 25000 PUT,OPTIDX,75,2026-09-11,25000,PE
NSE,D,9001,13,NIFTY,NIFTY 28 AUG 25000 CALL,OPTIDX,75,2026-08-28,25000,CE
MCX,M,8001,428,CRUDEOILM,CRUDEOILM SEP 5900 CE,OPTFUT,10,2026-09-15,5900,CE
BSE,D,7001,51,SENSEX,SENSEX 81000 CALL,OPTIDX,20,2026-09-04,81000,CE
`

func loadFixture(t *testing.T) *Chain {
	t.Helper()
	today := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	chain, err := parseChain(strings.NewReader(masterFixture), "NSE", "NIFTY", today)
	if err != nil {
		t.Fatalf("解析期权链失败: %v", err)
	}
	return chain
}

func TestParseChainPicksNearestExpiry(t *testing.T) {
	chain := loadFixture(t)
	if chain.Expiry.Format("2006-01-02") != "2026-09-04" {
		t.Fatalf("应选最近到期日，实际 %v", chain.Expiry)
	}
	// 已过期（08-28）和次近到期（09-11）都不应入链
	if len(chain.CE) != 4 || len(chain.PE) != 4 {
		t.Fatalf("链规模错误: CE=%d PE=%d", len(chain.CE), len(chain.PE))
	}
	inst, ok := chain.At(domain.OptionCE, 25000)
	if !ok || inst.SecurityID != "1003" {
		t.Fatalf("25000 CE 解析错误: %+v", inst)
	}
	if inst.LotSize != 75 {
		t.Fatalf("手数错误: %d", inst.LotSize)
	}
}

func TestParseChainFiltersExchangeAndUnderlying(t *testing.T) {
	chain := loadFixture(t)
	for _, strikes := range [][]float64{chain.Strikes(domain.OptionCE), chain.Strikes(domain.OptionPE)} {
		for _, k := range strikes {
			if k == 81000 || k == 5900 {
				t.Fatalf("混入其他标的的合约: %v", k)
			}
		}
	}
}

func TestATMStrike(t *testing.T) {
	chain := loadFixture(t)
	atm, ok := chain.ATMStrike(domain.OptionCE, 24970)
	if !ok || atm != 24950 {
		t.Fatalf("ATM 选择错误: %v", atm)
	}
	atm, _ = chain.ATMStrike(domain.OptionPE, 25080)
	if atm != 25100 {
		t.Fatalf("PE ATM 选择错误: %v", atm)
	}
}

func TestSelectITMDirection(t *testing.T) {
	chain := loadFixture(t)
	ce, pe, err := chain.Select(25000, 2)
	if err != nil {
		t.Fatalf("选合约失败: %v", err)
	}
	// CE: ATM 25000 + 下方两档 24950/24900
	if len(ce) != 3 {
		t.Fatalf("CE 数量错误: %d", len(ce))
	}
	if ce[0].StrikePrice != 25000 || ce[1].StrikePrice != 24950 || ce[2].StrikePrice != 24900 {
		t.Fatalf("CE ITM 方向错误: %v %v %v", ce[0].StrikePrice, ce[1].StrikePrice, ce[2].StrikePrice)
	}
	// PE: ATM 25000 + 上方两档 25050/25100
	if len(pe) != 3 {
		t.Fatalf("PE 数量错误: %d", len(pe))
	}
	if pe[1].StrikePrice != 25050 || pe[2].StrikePrice != 25100 {
		t.Fatalf("PE ITM 方向错误: %v %v", pe[1].StrikePrice, pe[2].StrikePrice)
	}
}

func TestSelectDepthClampedAtChainEdge(t *testing.T) {
	chain := loadFixture(t)
	ce, _, err := chain.Select(24900, 5)
	if err != nil {
		t.Fatalf("选合约失败: %v", err)
	}
	// ATM 已是最低档，下方没有 ITM 可选
	if len(ce) != 1 || ce[0].StrikePrice != 24900 {
		t.Fatalf("链边缘裁剪错误: %+v", ce)
	}
}

func TestParseChainMissingColumn(t *testing.T) {
	bad := "EXCH_ID,SECURITY_ID\nNSE,1\n"
	if _, err := parseChain(strings.NewReader(bad), "NSE", "NIFTY", time.Now()); err == nil {
		t.Fatal("缺列应报错")
	}
}

func TestParseChainNoContracts(t *testing.T) {
	today := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	if _, err := parseChain(strings.NewReader(masterFixture), "NSE", "BANKNIFTY", today); err == nil {
		t.Fatal("找不到标的应报错")
	}
}
