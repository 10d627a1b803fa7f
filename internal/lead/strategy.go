package lead

import (
	"fmt"
	"strings"
)

// Strategy identifies one of the fixed outreach templates.
type Strategy string

const (
	StrategyVisionary Strategy = "A"
	StrategyNeighbor  Strategy = "B"
	StrategyAnalyst   Strategy = "C"
	StrategyCloser    Strategy = "D"
	StrategyOptimizer Strategy = "E"

	DefaultStrategy = StrategyVisionary
)

// StrategyInfo describes a strategy for prompts and operator output.
type StrategyInfo struct {
	Code        Strategy
	Name        string
	Description string
	Template    string
}

// Strategies is the catalog in code order. Template is the message used verbatim when
// the generator cannot produce an intro; "{name}" is replaced by the company name.
var Strategies = []StrategyInfo{
	{
		Code:        StrategyVisionary,
		Name:        "The Visionary (Tech-First)",
		Description: "Smart middle layer that lets boutique cafes compete with chains on data.",
		Template: "Merhabalar, kolay gelsin :) Tech İstanbul bünyesinde geliştirdiğimiz 'Akıllı Ara Katman' projesi için " +
			"10 öncü işletme seçiyoruz. Müşteri yorumlarınız harika. Kısaca bahsedeyim mi?",
	},
	{
		Code:        StrategyNeighbor,
		Name:        "The Neighbor (Community & Ecosystem)",
		Description: "Local merchant solidarity network.",
		Template: "Merhabalar, kolay gelsin :) Ben de mahallenin bir girişimcisiyim. Yerel esnafın birbirine müşteri " +
			"yönlendirdiği bir dayanışma ağı kuruyoruz. Detayları ileteyim mi?",
	},
	{
		Code:        StrategyAnalyst,
		Name:        "The Analyst (Data & Retention)",
		Description: "Customer win-back focus.",
		Template: "Merhabalar, kolay gelsin :) {name}'nin sevenleri çoktur ama ya gelmeyi bırakanlar? Sistemimiz onları " +
			"otomatik tespit edip geri çağırıyor. 1 ay ücretsiz denemek ister misiniz?",
	},
	{
		Code:        StrategyCloser,
		Name:        "The Closer (Churn Recovery)",
		Description: "Churn recovery focus.",
		Template: "Merhabalar, kolay gelsin :) Algoritmamız müşterinin gelme periyodunu analiz edip gelmeyeni otomatik " +
			"geri çağırıyor. Bu sistemi 1 ay ücretsiz denemek ister misiniz?",
	},
	{
		Code:        StrategyOptimizer,
		Name:        "The Optimizer (Operations)",
		Description: "Stock forecasting and peak-hour reporting beyond loyalty.",
		Template: "Selamlar, Kaffiy'den yazıyorum. Yapay zekayla stok tahmini, en çok satılan ürünler ve yoğun saatler " +
			"gibi verileri raporluyoruz. 5 dakikada anlatayım mı?",
	},
}

// ParseStrategy validates a strategy code; the empty string maps to the default.
func ParseStrategy(raw string) (Strategy, error) {
	code := Strategy(strings.ToUpper(strings.TrimSpace(raw)))
	if code == "" {
		return DefaultStrategy, nil
	}
	if _, ok := LookupStrategy(code); !ok {
		return "", fmt.Errorf("unknown strategy %q", raw)
	}
	return code, nil
}

// LookupStrategy returns the catalog entry for code.
func LookupStrategy(code Strategy) (StrategyInfo, bool) {
	for _, s := range Strategies {
		if s.Code == code {
			return s, true
		}
	}
	return StrategyInfo{}, false
}

// StrategyFor returns the lead's active strategy, falling back to the default.
func StrategyFor(l *Lead) StrategyInfo {
	if info, ok := LookupStrategy(l.ActiveStrategy); ok {
		return info
	}
	info, _ := LookupStrategy(DefaultStrategy)
	return info
}

// FallbackIntro renders the strategy template for a lead.
func (s StrategyInfo) FallbackIntro(l *Lead) string {
	name := strings.TrimSpace(l.CompanyName)
	if name == "" {
		name = "işletmeniz"
	}
	return strings.ReplaceAll(s.Template, "{name}", name)
}
