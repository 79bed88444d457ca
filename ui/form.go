package ui

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"bankpredict/ml"
)

// Field 表单输入项
type Field struct {
	Name    string
	Label   string
	Kind    ml.ColumnKind
	Min     int
	Max     int
	Default string
}

// Numeric 是否为整数输入
func (f Field) Numeric() bool {
	return f.Kind == ml.KindInt
}

// sampleFields 预测表单，顺序与样本字段一致
var sampleFields = []Field{
	{Name: "age", Label: "Age", Kind: ml.KindInt, Min: 0, Max: 120, Default: "30"},
	{Name: "job", Label: "Job", Kind: ml.KindString, Default: "unemployed"},
	{Name: "marital", Label: "Marital", Kind: ml.KindString, Default: "single"},
	{Name: "education", Label: "Education", Kind: ml.KindString, Default: "primary"},
	{Name: "default", Label: "Default", Kind: ml.KindString, Default: "no"},
	{Name: "balance", Label: "Balance", Kind: ml.KindInt, Min: -10000, Max: 100000, Default: "0"},
	{Name: "housing", Label: "Housing", Kind: ml.KindString, Default: "no"},
	{Name: "loan", Label: "Loan", Kind: ml.KindString, Default: "no"},
	{Name: "contact", Label: "Contact", Kind: ml.KindString, Default: "cellular"},
	{Name: "day", Label: "Day", Kind: ml.KindInt, Min: 1, Max: 31, Default: "1"},
	{Name: "month", Label: "Month", Kind: ml.KindString, Default: "jan"},
	{Name: "duration", Label: "Duration", Kind: ml.KindInt, Min: 0, Max: 5000, Default: "180"},
	{Name: "campaign", Label: "Campaign", Kind: ml.KindInt, Min: 1, Max: 50, Default: "1"},
	{Name: "pdays", Label: "Pdays", Kind: ml.KindInt, Min: -1, Max: 1000, Default: "-1"},
	{Name: "previous", Label: "Previous", Kind: ml.KindInt, Min: 0, Max: 10, Default: "0"},
	{Name: "poutcome", Label: "Poutcome", Kind: ml.KindString, Default: "nonexistent"},
}

// SampleFields 返回预测表单定义
func SampleFields() []Field {
	return append([]Field(nil), sampleFields...)
}

// DefaultSample 表单默认值组成的样本
func DefaultSample() ml.Sample {
	values := url.Values{}
	for _, f := range sampleFields {
		values.Set(f.Name, f.Default)
	}
	sample, _ := ParseSampleForm(values)
	return sample
}

// ParseSampleForm 解析预测表单；未提交的字段取默认值，数值字段检查整数与范围
func ParseSampleForm(values url.Values) (ml.Sample, map[string]string) {
	var sample ml.Sample
	problems := make(map[string]string)

	for _, f := range sampleFields {
		raw := f.Default
		if _, ok := values[f.Name]; ok {
			raw = values.Get(f.Name)
		}

		if f.Kind != ml.KindInt {
			if err := sample.Set(f.Name, raw); err != nil {
				problems[f.Name] = err.Error()
			}
			continue
		}

		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			problems[f.Name] = fmt.Sprintf("%s must be a whole number", f.Label)
			continue
		}
		if n < f.Min || n > f.Max {
			problems[f.Name] = fmt.Sprintf("%s must be between %d and %d", f.Label, f.Min, f.Max)
			continue
		}
		if err := sample.Set(f.Name, n); err != nil {
			problems[f.Name] = err.Error()
		}
	}

	if len(problems) == 0 {
		return sample, nil
	}
	return sample, problems
}
