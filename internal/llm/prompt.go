package llm

import (
	"fmt"
	"strings"

	"github.com/askdocs/service/internal/rag"
)

// InsufficientMarker is the phrase providers are instructed to emit when the
// supplied chunks do not support an answer. The processor checks for it to
// decide whether another retrieval iteration is needed.
const InsufficientMarker = "НЕДОСТАТОЧНО ИНФОРМАЦИИ"

const systemInstruction = `Вы — ассистент службы поддержки по продукту. Отвечайте только на основе предоставленного контекста.
Структурируйте ответ: используйте **жирный текст**, ### заголовки и * списки.
После каждого утверждения указывайте номер источника в квадратных скобках, например [1].
В конце ответа добавьте раздел "Подробнее" со ссылками на использованные источники.
Если контекст не содержит ответа на вопрос, ответьте ровно: ` + InsufficientMarker + `.`

// BuildPrompt assembles the provider prompt from the fixed system
// instruction, the normalized query, and the reranked chunks with their
// source identifiers.
func BuildPrompt(query string, chunks []rag.RerankedResult) string {
	var b strings.Builder
	b.WriteString(systemInstruction)
	b.WriteString("\n\nВопрос: ")
	b.WriteString(query)
	b.WriteString("\n\nКонтекст:\n")

	for i, c := range chunks {
		fmt.Fprintf(&b, "[%d] %s", i+1, c.Title)
		if c.Section != "" {
			fmt.Fprintf(&b, " — %s", c.Section)
		}
		if c.URL != "" {
			fmt.Fprintf(&b, " (%s)", c.URL)
		}
		b.WriteString("\n")
		b.WriteString(c.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}

// IsInsufficient reports whether a generated answer declares the context
// insufficient.
func IsInsufficient(answer string) bool {
	return strings.Contains(strings.ToUpper(answer), InsufficientMarker)
}
