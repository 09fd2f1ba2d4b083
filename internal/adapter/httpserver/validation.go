package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/stock-analyzer/internal/domain"
)

// ValidationError is one entry of details.validation_errors in the 400
// envelope.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

// getValidator returns the shared validator configured to report fields by
// their json names, so envelope details match the request wire format.
func getValidator() *validator.Validate {
	vldOnce.Do(func() {
		vld = validator.New()
		vld.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
	})
	return vld
}

// analyzeRequest is the explicit-list submission body. Bounds mirror the
// documented API contract; analyzer-side defaults cover omitted knobs.
type analyzeRequest struct {
	Tickers           []string           `json:"tickers" validate:"required,min=1,max=100"`
	Capital           *float64           `json:"capital" validate:"omitempty,gt=0,lte=10000000"`
	StrategyID        *int               `json:"strategy_id" validate:"omitempty,gte=1"`
	RiskPercent       *float64           `json:"risk_percent" validate:"omitempty,gte=0.5,lte=5"`
	PositionSizeLimit *float64           `json:"position_size_limit" validate:"omitempty,gte=5,lte=50"`
	RiskRewardRatio   *float64           `json:"risk_reward_ratio" validate:"omitempty,gte=1,lte=3"`
	DataPeriod        string             `json:"data_period" validate:"omitempty,oneof=1mo 3mo 6mo 1y 2y 5y"`
	UseDemoData       *bool              `json:"use_demo_data"`
	EnabledIndicators map[string]bool    `json:"enabled_indicators"`
	CategoryWeights   map[string]float64 `json:"category_weights" validate:"omitempty,dive,gte=0"`
}

func (req analyzeRequest) settings(defaultPeriod string) domain.AnalysisSettings {
	return buildSettings(req.Capital, req.StrategyID, req.RiskPercent, req.PositionSizeLimit,
		req.RiskRewardRatio, req.DataPeriod, req.UseDemoData, req.EnabledIndicators,
		req.CategoryWeights, defaultPeriod)
}

// bulkRequest is the analyze-all submission body. An empty symbols list means
// the whole catalogue; the server-side universe cap is enforced downstream.
type bulkRequest struct {
	Symbols           []string           `json:"symbols"`
	Capital           *float64           `json:"capital" validate:"omitempty,gt=0,lte=10000000"`
	StrategyID        *int               `json:"strategy_id" validate:"omitempty,gte=1"`
	RiskPercent       *float64           `json:"risk_percent" validate:"omitempty,gte=0.5,lte=5"`
	PositionSizeLimit *float64           `json:"position_size_limit" validate:"omitempty,gte=5,lte=50"`
	RiskRewardRatio   *float64           `json:"risk_reward_ratio" validate:"omitempty,gte=1,lte=3"`
	DataPeriod        string             `json:"data_period" validate:"omitempty,oneof=1mo 3mo 6mo 1y 2y 5y"`
	UseDemoData       *bool              `json:"use_demo_data"`
	EnabledIndicators map[string]bool    `json:"enabled_indicators"`
	CategoryWeights   map[string]float64 `json:"category_weights" validate:"omitempty,dive,gte=0"`
}

func (req bulkRequest) settings(defaultPeriod string) domain.AnalysisSettings {
	return buildSettings(req.Capital, req.StrategyID, req.RiskPercent, req.PositionSizeLimit,
		req.RiskRewardRatio, req.DataPeriod, req.UseDemoData, req.EnabledIndicators,
		req.CategoryWeights, defaultPeriod)
}

func buildSettings(capital *float64, strategyID *int, riskPct, posLimit, rr *float64,
	period string, demo *bool, indicators map[string]bool, weights map[string]float64,
	defaultPeriod string) domain.AnalysisSettings {
	set := domain.AnalysisSettings{
		DataPeriod:        period,
		EnabledIndicators: indicators,
		CategoryWeights:   weights,
	}
	if set.DataPeriod == "" {
		set.DataPeriod = defaultPeriod
	}
	if capital != nil {
		set.Capital = *capital
	}
	if strategyID != nil {
		set.StrategyID = *strategyID
	}
	if riskPct != nil {
		set.RiskPercent = *riskPct
	}
	if posLimit != nil {
		set.PositionSizeLimit = *posLimit
	}
	if rr != nil {
		set.RiskReward = *rr
	}
	if demo != nil {
		set.UseDemoData = *demo
	}
	return set
}

// watchlistAddRequest accepts the ticker under either key; clients send the
// bare symbol or the suffixed ticker interchangeably.
type watchlistAddRequest struct {
	Ticker string `json:"ticker" validate:"omitempty,max=20"`
	Symbol string `json:"symbol" validate:"omitempty,max=20"`
	Notes  string `json:"notes" validate:"omitempty,max=500"`
}

var unknownFieldRe = regexp.MustCompile(`unknown field "?([^"]*)"?`)

// decodeJSON parses a request body strictly. Unknown fields come back as a
// field-level validation error (schema violation); any other decode failure
// is malformed JSON and surfaces as INVALID_REQUEST.
func decodeJSON(r *http.Request, dst any) ([]ValidationError, error) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if m := unknownFieldRe.FindStringSubmatch(err.Error()); m != nil {
			return []ValidationError{{Field: m[1], Code: "UNKNOWN_FIELD", Message: "is not a recognized option"}}, nil
		}
		return nil, fmt.Errorf("op=httpserver.decodeJSON: %w", err)
	}
	return nil, nil
}

// validateStruct runs tag validation and flattens failures into wire entries.
func validateStruct(v any) []ValidationError {
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return []ValidationError{{Field: "body", Code: "INVALID", Message: "request could not be validated"}}
	}
	out := make([]ValidationError, 0, len(ve))
	for _, fe := range ve {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Code:    strings.ToUpper(fe.Tag()),
			Message: fieldMessage(fe),
		})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s items", fe.Param())
	case "max":
		if fe.Kind() == reflect.Slice || fe.Kind() == reflect.Map {
			return fmt.Sprintf("must have at most %s items", fe.Param())
		}
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", strings.Join(strings.Fields(fe.Param()), ", "))
	default:
		return "is invalid"
	}
}

// tickerPattern bounds path and payload tickers: uppercase alphanumeric
// start, then up to 19 of the same plus dot, underscore, hyphen.
var tickerPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9._-]{0,19}$`)

// NormalizeTicker uppercases, trims, and validates a ticker from a path
// segment or payload field.
func NormalizeTicker(raw string) (string, bool) {
	t := strings.ToUpper(strings.TrimSpace(raw))
	return t, tickerPattern.MatchString(t)
}

var jobIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateJobID bounds the job id path segment before it reaches the store.
func ValidateJobID(jobID string) []ValidationError {
	switch {
	case jobID == "":
		return []ValidationError{{Field: "job_id", Code: "REQUIRED", Message: "is required"}}
	case len(jobID) > 100:
		return []ValidationError{{Field: "job_id", Code: "TOO_LONG", Message: "must be at most 100 characters"}}
	case !jobIDPattern.MatchString(jobID):
		return []ValidationError{{Field: "job_id", Code: "INVALID_FORMAT", Message: "contains invalid characters"}}
	}
	return nil
}

var searchPattern = regexp.MustCompile(`^[a-zA-Z0-9 ._&'-]*$`)

// ValidateSearchQuery bounds the free-text stock search filter.
func ValidateSearchQuery(q string) []ValidationError {
	if len(q) > 100 {
		return []ValidationError{{Field: "search", Code: "TOO_LONG", Message: "must be at most 100 characters"}}
	}
	if !searchPattern.MatchString(q) {
		return []ValidationError{{Field: "search", Code: "INVALID_FORMAT", Message: "contains invalid characters"}}
	}
	return nil
}

// parsePageRequest reads page, per_page, sort and order query parameters,
// applying defaults and the allowed sort whitelist for the endpoint.
func parsePageRequest(r *http.Request, sorts []string, defaultSort, defaultOrder string) (domain.PageRequest, []ValidationError) {
	var errs []ValidationError
	q := r.URL.Query()

	p := domain.PageRequest{Page: 1, PerPage: 20, Sort: defaultSort, Order: defaultOrder}
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			errs = append(errs, ValidationError{Field: "page", Code: "INVALID_FORMAT", Message: "must be a positive integer"})
		} else {
			p.Page = n
		}
	}
	if raw := q.Get("per_page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			errs = append(errs, ValidationError{Field: "per_page", Code: "OUT_OF_RANGE", Message: "must be between 1 and 100"})
		} else {
			p.PerPage = n
		}
	}
	if raw := q.Get("sort"); raw != "" {
		ok := false
		for _, s := range sorts {
			if raw == s {
				ok = true
				break
			}
		}
		if !ok {
			errs = append(errs, ValidationError{Field: "sort", Code: "INVALID_VALUE",
				Message: "must be one of " + strings.Join(sorts, ", ")})
		} else {
			p.Sort = raw
		}
	}
	if raw := q.Get("order"); raw != "" {
		switch strings.ToLower(raw) {
		case "asc", "desc":
			p.Order = strings.ToLower(raw)
		default:
			errs = append(errs, ValidationError{Field: "order", Code: "INVALID_VALUE", Message: "must be asc or desc"})
		}
	}
	return p, errs
}
