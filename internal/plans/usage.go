package plans

import (
	"errors"
	"strings"
)

var (
	// ErrRequestTooLarge текст длиннее разрешенного планом за один запрос
	ErrRequestTooLarge = errors.New("request exceeds per-request word limit")
	// ErrQuotaExceeded месячный лимит слов исчерпан
	ErrQuotaExceeded = errors.New("monthly word allocation exceeded")
)

// UsageReport результат рекомендательной проверки лимитов.
type UsageReport struct {
	Plan               Name `json:"plan"`
	RequestWords       int  `json:"request_words"`
	UsedWords          int  `json:"used_words"`
	MonthlyWords       int  `json:"monthly_words"`
	MaxWordsPerRequest int  `json:"max_words_per_request"`
	RemainingWords     int  `json:"remaining_words"`
}

// CountWords считает слова как последовательности символов, разделенные пробелами.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// CheckUsage сверяет счетчик использованных слов и размер текста с лимитами плана.
// Проверка рекомендательная: реального списания здесь нет.
func (c *Catalog) CheckUsage(name Name, usedWords int, text string) (UsageReport, error) {
	plan := c.Limits(name)
	if usedWords < 0 {
		usedWords = 0
	}
	words := CountWords(text)

	report := UsageReport{
		Plan:               plan.Name,
		RequestWords:       words,
		UsedWords:          usedWords,
		MonthlyWords:       plan.MonthlyWords,
		MaxWordsPerRequest: plan.MaxWordsPerRequest,
		RemainingWords:     max(plan.MonthlyWords-usedWords, 0),
	}

	if words > plan.MaxWordsPerRequest {
		return report, ErrRequestTooLarge
	}
	if usedWords+words > plan.MonthlyWords {
		return report, ErrQuotaExceeded
	}
	report.RemainingWords = plan.MonthlyWords - usedWords - words
	return report, nil
}
