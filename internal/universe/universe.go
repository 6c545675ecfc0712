// Package universe periodically computes the active tradable symbol set
// from venue metadata under one of the three selection policies.
package universe

import (
	"context"
	"sort"
	"strings"

	"perpctl/internal/gateway"
	"perpctl/internal/model"
	"perpctl/pkg/utils"
)

// Config is the subset of universe-selection options Build needs.
type Config struct {
	Mode              model.SymbolMode
	Whitelist         []string
	Blacklist         []string
	SkipSymbols       []string
	Quote             string
	WhitelistPriority bool
	AutoTopN          int
	TargetSymbols     int
	Min24hQuoteVol    float64
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[strings.ToUpper(it)] = true
	}
	return set
}

func endsInQuote(symbol, quote string) bool {
	return strings.HasSuffix(symbol, strings.ToUpper(quote))
}

// Build computes the ordered active symbol list for cfg.Mode, using the
// gateway's 24h ticker snapshot for the auto-ranked modes. It never fails
// outright: a gateway error degrades WHITELIST_ONLY-equivalent behavior so
// the orchestrator keeps trading the configured whitelist.
func Build(ctx context.Context, gw gateway.Gateway, cfg Config) ([]string, error) {
	blacklist := toSet(cfg.Blacklist)
	skip := toSet(cfg.SkipSymbols)
	whitelist := normalizeWhitelist(cfg.Whitelist)

	if cfg.Mode == model.ModeWhitelistOnly {
		return filterWhitelist(whitelist, blacklist, skip, cfg.Quote), nil
	}

	tickers, err := gw.Tickers24h(ctx)
	if err != nil {
		return filterWhitelist(whitelist, blacklist, skip, cfg.Quote), err
	}

	ranked := rankByVolume(tickers, toSet(whitelist), blacklist, skip, cfg.Quote, cfg.Min24hQuoteVol)
	if len(ranked) > cfg.AutoTopN {
		ranked = ranked[:cfg.AutoTopN]
	}

	var merged []string
	switch {
	case cfg.Mode == model.ModeAutoOnly:
		merged = dedupe(ranked)
	case cfg.WhitelistPriority:
		merged = mergePriority(whitelist, ranked)
	default:
		merged = dedupe(append(append([]string(nil), whitelist...), ranked...))
	}

	if len(merged) > cfg.TargetSymbols {
		merged = merged[:cfg.TargetSymbols]
	}
	return merged, nil
}

func normalizeWhitelist(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, utils.NormalizeSymbol(s))
	}
	return out
}

func filterWhitelist(whitelist []string, blacklist, skip map[string]bool, quote string) []string {
	out := make([]string, 0, len(whitelist))
	for _, s := range whitelist {
		if blacklist[s] || skip[s] {
			continue
		}
		if quote != "" && !endsInQuote(s, quote) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// rankByVolume discards symbols not ending in quote, in blacklist, or
// below minVol 24h quote volume — unless the symbol is also in whitelist,
// per the specification's HYBRID_PRIORITY/AUTO_ONLY discard rule. Symbols
// in skip are always discarded, whitelisted or not.
func rankByVolume(tickers []gateway.Ticker24h, whitelist, blacklist, skip map[string]bool, quote string, minVol float64) []string {
	type row struct {
		symbol string
		vol    float64
	}
	rows := make([]row, 0, len(tickers))
	for _, t := range tickers {
		sym := strings.ToUpper(t.Symbol)
		if skip[sym] {
			// skip_symbols is a hard exclusion, not subject to the
			// whitelist exception (unlike blacklist/quote/volume below).
			continue
		}
		if whitelist[sym] {
			rows = append(rows, row{sym, t.QuoteVolume})
			continue
		}
		if blacklist[sym] {
			continue
		}
		if quote != "" && !endsInQuote(sym, quote) {
			continue
		}
		if t.QuoteVolume < minVol {
			continue
		}
		rows = append(rows, row{sym, t.QuoteVolume})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].vol > rows[j].vol })

	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.symbol
	}
	return out
}

func mergePriority(whitelist, ranked []string) []string {
	seen := make(map[string]bool, len(whitelist)+len(ranked))
	out := make([]string, 0, len(whitelist)+len(ranked))
	for _, s := range whitelist {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range ranked {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
