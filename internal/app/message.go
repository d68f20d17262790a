// internal/app/message.go
package app

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"outreach_engine/internal/domain/campaign"
)

var namePlaceholders = []string{"{{name}}", "{name}", "{{nome}}", "{nome}"}

// renderMessage substitutes the lead name into a message variant. With no
// name, only the lines that held a placeholder are tidied; line breaks and
// the other lines are kept as written.
func renderMessage(text string, lead *campaign.Lead) string {
	name := strings.TrimSpace(lead.Name)
	if name != "" {
		return replaceName(text, name)
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if blank := replaceName(line, ""); blank != line {
			lines[i] = tidyLine(blank)
		}
	}
	return strings.Join(lines, "\n")
}

func replaceName(text, name string) string {
	for _, p := range namePlaceholders {
		text = strings.ReplaceAll(text, p, name)
	}
	return text
}

// tidyLine removes the gap a dropped name leaves: "Hi , ..." becomes "Hi, ...".
func tidyLine(line string) string {
	body := strings.TrimLeft(line, " \t")
	indent := line[:len(line)-len(body)]
	for strings.Contains(body, "  ") {
		body = strings.ReplaceAll(body, "  ", " ")
	}
	for _, p := range []string{",", ".", "!", "?", ";", ":"} {
		body = strings.ReplaceAll(body, " "+p, p)
	}
	body = strings.TrimLeft(body, ", ")
	return indent + strings.TrimRight(body, " ")
}

// lockedRand is a math/rand source safe for concurrent use. Variant choice and
// cooldown jitter need uniformity, not unpredictability.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func newLockedRand(seed int64) *lockedRand {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

func (l *lockedRand) Int63n(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int63n(n)
}

// pickVariant returns one of the configured texts, chosen uniformly.
func (l *lockedRand) pickVariant(variants []string) string {
	if len(variants) == 0 {
		return ""
	}
	return variants[l.Intn(len(variants))]
}

// between returns a duration uniformly drawn from [min, max].
func (l *lockedRand) between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(l.Int63n(int64(max-min)+1))
}
