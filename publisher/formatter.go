package publisher

import (
	"bytes"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

const maskedValue = "***"

var (
	// identity tokens may show up in traced responses before they are registered
	jwtPattern = regexp.MustCompile(`eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`)
	// upload tokens inside the token exchange response
	tokenFieldPattern = regexp.MustCompile(`("token"\s*:\s*")[^"]*(")`)
)

// SecretMasker replaces every registered secret and every token looking value with ***
type SecretMasker struct {
	mu      sync.RWMutex
	secrets []string
}

// Add registers secret, booleans and values shorter than 4 characters are ignored
func (m *SecretMasker) Add(secret string) {
	secret = strings.TrimSpace(secret)
	if len(secret) < 4 || strings.EqualFold(secret, "true") || strings.EqualFold(secret, "false") {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.secrets {
		if s == secret {
			return
		}
	}
	m.secrets = append(m.secrets, secret)
	// longest first, a secret may contain another one
	sort.Slice(m.secrets, func(i, j int) bool { return len(m.secrets[i]) > len(m.secrets[j]) })
}

func (m *SecretMasker) Mask(s string) string {
	if m == nil {
		return s
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, secret := range m.secrets {
		s = strings.ReplaceAll(s, secret, maskedValue)
	}
	s = jwtPattern.ReplaceAllString(s, maskedValue)
	return tokenFieldPattern.ReplaceAllString(s, "${1}"+maskedValue+"${2}")
}

// logFormatter renders run log entries the way the orchestrator displays them
type logFormatter struct {
	masker        *SecretMasker
	linefeedregex *regexp.Regexp
}

func newLogFormatter(masker *SecretMasker) *logFormatter {
	return &logFormatter{
		masker:        masker,
		linefeedregex: regexp.MustCompile(`(\r\n|\r|\n)`),
	}
}

func (f *logFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := &bytes.Buffer{}
	msg := f.masker.Mask(entry.Message)

	prefix := entry.Time.UTC().Format("2006-01-02T15:04:05.0000000Z ")
	switch entry.Level {
	case logrus.DebugLevel, logrus.TraceLevel:
		prefix += "##[debug]"
	case logrus.WarnLevel:
		prefix += "##[warning]"
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		prefix += "##[error]"
	}
	msg = f.linefeedregex.ReplaceAllString(prefix+strings.Trim(msg, "\r\n"), "\n"+prefix)

	b.WriteString(msg)
	b.WriteByte('\n')
	return b.Bytes(), nil
}
