package strategy

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"strategy-engine/order"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(paramName)
	return v
}

func paramName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

var (
	timeType = reflect.TypeOf(time.Time{})
	upperEnums = map[reflect.Type]bool{
		reflect.TypeOf(order.Side("")):     true,
		reflect.TypeOf(order.Type("")):     true,
		reflect.TypeOf(order.Duration("")): true,
		reflect.TypeOf(order.Session("")):  true,
	}
	lowerEnums = map[reflect.Type]bool{
		reflect.TypeOf(Distribution("")): true,
	}
)

// normalizeEnumHook 统一枚举大小写，前端可传 "buy"/"BUY"。
func normalizeEnumHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	s := strings.TrimSpace(reflect.ValueOf(data).String())
	switch {
	case upperEnums[to]:
		return strings.ToUpper(s), nil
	case lowerEnums[to]:
		return strings.ToLower(s), nil
	}
	return data, nil
}

// normalizeSymbol 标的代码统一去空格并大写，与行情和交易日志保持一致。
func normalizeSymbol(raw map[string]any) map[string]any {
	v, ok := raw["symbol"].(string)
	if !ok {
		return raw
	}
	out := make(map[string]any, len(raw))
	for k, val := range raw {
		out[k] = val
	}
	out["symbol"] = strings.ToUpper(strings.TrimSpace(v))
	return out
}

// decodeParams 将前端传入的参数解码到强类型结构，未知字段报错。
func decodeParams(raw map[string]any, out any) error {
	raw = normalizeSymbol(raw)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			normalizeEnumHook,
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
	})
	if err != nil {
		return ExecutionFailure(fmt.Errorf("build params decoder: %w", err))
	}
	if err := dec.Decode(raw); err != nil {
		return ValidationError("invalid parameters: %v", err)
	}
	return nil
}

// checkParams 执行 validate 标签校验。
func checkParams(p any) error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ValidationError("%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return ValidationError("%s", strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be > %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	case "lt":
		return fmt.Sprintf("%s must be < %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed rule %s", fe.Field(), fe.Tag())
	}
}

// FieldSpec 参数描述，供前端生成表单。
type FieldSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Rule     string `json:"rule,omitempty"`
	Default  string `json:"default,omitempty"`
}

var paramPrototypes = map[StrategyType]any{
	LadderStrategy:      LadderParams{},
	TWAPStrategy:        SlicedParams{},
	VWAPStrategy:        SlicedParams{},
	OscillatingStrategy: OscillatingParams{},
	HighLowStrategy:     HighLowParams{},
	OTOLadderStrategy:   OTOLadderParams{},
}

// Schema 返回策略类型的参数描述。
func Schema(t StrategyType) ([]FieldSpec, error) {
	proto, ok := paramPrototypes[t]
	if !ok {
		return nil, ValidationError("unknown strategy type: %s", t)
	}
	rt := reflect.TypeOf(proto)
	specs := make([]FieldSpec, 0, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		name := paramName(f)
		if name == "" || !f.IsExported() {
			continue
		}
		rule := f.Tag.Get("validate")
		specs = append(specs, FieldSpec{
			Name:     name,
			Type:     typeName(f.Type),
			Required: strings.Contains(rule, "required"),
			Rule:     rule,
			Default:  f.Tag.Get("default"),
		})
	}
	return specs, nil
}

func typeName(t reflect.Type) string {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == timeType {
		return "datetime"
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int32, reflect.Int64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	default:
		return t.Kind().String()
	}
}
