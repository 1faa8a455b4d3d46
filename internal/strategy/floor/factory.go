package floor

import (
	"fmt"

	"github.com/atlas-fx/floor-engine/internal/strategy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FromParameters builds a Floor strategy from a strategy_config row's
// Parameters map, starting from DefaultConfig and overriding whichever
// fields ParameterSchema documents. instrument and pip_size aren't
// tunable strategy parameters but travel in the same map since
// strategy.Factory carries no other argument.
func FromParameters(logger *zap.Logger, parameters map[string]interface{}) (strategy.Strategy, error) {
	cfg := DefaultConfig()

	if v, ok := parameters["instrument"].(string); ok && v != "" {
		cfg.Instrument = v
	}
	if v, ok := decimalParam(parameters, "pip_size"); ok {
		cfg.PipSize = v
	}
	if v, ok := decimalParam(parameters, "base_lot_size"); ok {
		cfg.BaseLotSize = v
	}
	if v, ok := decimalParam(parameters, "retracement_pips"); ok {
		cfg.RetracementPips = v
	}
	if v, ok := decimalParam(parameters, "take_profit_pips"); ok {
		cfg.TakeProfitPips = v
	}
	if v, ok := intParam(parameters, "max_layers"); ok {
		cfg.MaxLayers = v
	}
	if v, ok := intParam(parameters, "max_retracements_per_layer"); ok {
		cfg.MaxRetracementsPerLayer = v
	}
	if v, ok := parameters["retracement_lot_mode"].(string); ok && v != "" {
		cfg.RetracementLotMode = ProgressionMode(v)
	}
	if v, ok := parameters["netting_mode"].(bool); ok {
		cfg.NettingMode = v
	}
	if v, ok := parameters["direction_method"].(string); ok && v != "" {
		cfg.DirectionMethod = DirectionMethod(v)
	}
	if v, ok := parameters["volatility_enabled"].(bool); ok {
		cfg.VolatilityEnabled = v
	}
	if v, ok := parameters["dynamic_params_enabled"].(bool); ok {
		cfg.DynamicParamsEnabled = v
	}

	return New(logger, cfg), nil
}

func decimalParam(parameters map[string]interface{}, key string) (decimal.Decimal, bool) {
	v, ok := parameters[key]
	if !ok {
		return decimal.Decimal{}, false
	}
	switch t := v.(type) {
	case string:
		d, err := decimal.NewFromString(t)
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(t), true
	}
	return decimal.Decimal{}, false
}

func intParam(parameters map[string]interface{}, key string) (int, bool) {
	v, ok := parameters[key]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return t, true
	case float64:
		return int(t), true
	case string:
		var n int
		if _, err := fmt.Sscanf(t, "%d", &n); err == nil {
			return n, true
		}
	}
	return 0, false
}
