package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type relayMetrics struct {
	mu            sync.Mutex
	relays        map[string]uint64
	burned        map[string]uint64
	fundingSwaps  uint64
	stageFailures map[string]uint64
	confirmations map[string]uint64
}

var relayCollector = &relayMetrics{
	relays:        make(map[string]uint64),
	burned:        make(map[string]uint64),
	stageFailures: make(map[string]uint64),
	confirmations: make(map[string]uint64),
}

// ObserveRelay counts a finished relay attempt by terminal status.
func ObserveRelay(status string) {
	relayCollector.mu.Lock()
	relayCollector.relays[status]++
	relayCollector.mu.Unlock()
}

// AddBurned accumulates fee units burned per asset, in raw token units.
func AddBurned(asset string, amount int64) {
	if amount <= 0 {
		return
	}
	relayCollector.mu.Lock()
	relayCollector.burned[asset] += uint64(amount)
	relayCollector.mu.Unlock()
}

// ObserveFundingSwap counts a FLM to GAS top-up swap issued for the agent.
func ObserveFundingSwap() {
	relayCollector.mu.Lock()
	relayCollector.fundingSwaps++
	relayCollector.mu.Unlock()
}

// ObserveStageFailure counts a pipeline failure by stage label.
func ObserveStageFailure(stage string) {
	if stage == "" {
		stage = "unknown"
	}
	relayCollector.mu.Lock()
	relayCollector.stageFailures[stage]++
	relayCollector.mu.Unlock()
}

// ObserveConfirmation counts a confirmation poll outcome.
func ObserveConfirmation(status string) {
	relayCollector.mu.Lock()
	relayCollector.confirmations[status]++
	relayCollector.mu.Unlock()
}

func (m *relayMetrics) render() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var builder strings.Builder
	builder.Grow(512)

	writeLabeled := func(name, help, label string, values map[string]uint64) {
		builder.WriteString(fmt.Sprintf("# HELP %s %s\n", name, help))
		builder.WriteString(fmt.Sprintf("# TYPE %s counter\n", name))
		keys := make([]string, 0, len(values))
		for key := range values {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			builder.WriteString(fmt.Sprintf("%s{%s=\"%s\"} %d\n", name, label, escape(key), values[key]))
		}
	}

	writeLabeled("neorelay_relays_total", "Total number of relay executions by terminal status.", "status", m.relays)
	writeLabeled("neorelay_burned_units_total", "Total fee units burned per asset, in raw token units.", "asset", m.burned)

	builder.WriteString("# HELP neorelay_funding_swaps_total Total number of agent GAS top-up swaps issued.\n")
	builder.WriteString("# TYPE neorelay_funding_swaps_total counter\n")
	builder.WriteString(fmt.Sprintf("neorelay_funding_swaps_total %d\n", m.fundingSwaps))

	writeLabeled("neorelay_stage_failures_total", "Total number of relay pipeline failures by stage.", "stage", m.stageFailures)
	writeLabeled("neorelay_confirmations_total", "Total number of transaction confirmation outcomes.", "status", m.confirmations)

	return builder.String()
}
