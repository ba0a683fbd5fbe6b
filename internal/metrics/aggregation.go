package metrics

import (
	"sort"
	"time"
)

// Summary aggregates the metrics of a run.
type Summary struct {
	Count            int            `json:"count" yaml:"count"`
	SuccessCount     int            `json:"success_count" yaml:"success_count"`
	ErrorCount       int            `json:"error_count" yaml:"error_count"`
	TotalTokens      int            `json:"total_tokens" yaml:"total_tokens"`
	PromptTokens     int            `json:"prompt_tokens" yaml:"prompt_tokens"`
	CompletionTokens int            `json:"completion_tokens" yaml:"completion_tokens"`
	TotalChars       int            `json:"total_chars" yaml:"total_chars"`
	TotalTime        time.Duration  `json:"total_time" yaml:"total_time"`
	AvgTimeSeconds   float64        `json:"avg_time_seconds" yaml:"avg_time_seconds"`
	AvgTokens        float64        `json:"avg_tokens" yaml:"avg_tokens"`
	FailedPages      []int          `json:"failed_pages,omitempty" yaml:"failed_pages,omitempty"`
	ErrorsByType     map[string]int `json:"errors_by_type,omitempty" yaml:"errors_by_type,omitempty"`
}

// Summarize computes a Summary over metrics.
func Summarize(metrics []Metric) Summary {
	s := Summary{Count: len(metrics)}
	if len(metrics) == 0 {
		return s
	}

	var totalSeconds float64
	for _, m := range metrics {
		s.TotalTokens += m.TotalTokens
		s.PromptTokens += m.PromptTokens
		s.CompletionTokens += m.CompletionTokens
		s.TotalChars += m.Chars
		totalSeconds += m.ExecutionSeconds

		if m.Success {
			s.SuccessCount++
			continue
		}
		s.ErrorCount++
		s.FailedPages = append(s.FailedPages, m.Page)
		if s.ErrorsByType == nil {
			s.ErrorsByType = make(map[string]int)
		}
		errType := m.ErrorType
		if errType == "" {
			errType = ErrorTypeOther
		}
		s.ErrorsByType[errType]++
	}
	sort.Ints(s.FailedPages)

	s.TotalTime = time.Duration(totalSeconds * float64(time.Second))
	s.AvgTimeSeconds = totalSeconds / float64(s.Count)
	s.AvgTokens = float64(s.TotalTokens) / float64(s.Count)
	return s
}
