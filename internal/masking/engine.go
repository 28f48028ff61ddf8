package masking

import (
	"strings"

	"github.com/raakeshmj/campusguard/internal/auth"
	"github.com/raakeshmj/campusguard/internal/fieldcrypt"
)

const (
	Placeholder = "[REDACTED]"

	// PermissionViewSensitive unlocks unredacted student records for staff.
	PermissionViewSensitive = "view_sensitive_student_data"
)

var (
	DefaultRedactFields = []string{
		"national_id", "nik", "birth_certificate_number", "family_card_number",
		"medical_notes", "bank_account", "card_number", "parent_income",
		"address", "phone", "email",
	}
	DefaultPartialFields = []string{"national_id", "nik", "phone", "address", "email"}
)

type Engine struct {
	redact  map[string]struct{}
	partial map[string]struct{}
}

func NewEngine(redactFields, partialFields []string) *Engine {
	if len(redactFields) == 0 {
		redactFields = DefaultRedactFields
	}
	if len(partialFields) == 0 {
		partialFields = DefaultPartialFields
	}
	return &Engine{redact: toSet(redactFields), partial: toSet(partialFields)}
}

func toSet(names []string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[strings.ToLower(n)] = struct{}{}
	}
	return m
}

// Mask keeps the first and last two characters and stars the rest. Values
// of four characters or fewer are starred entirely.
func Mask(v string) string {
	r := []rune(v)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:2]) + strings.Repeat("*", len(r)-4) + string(r[len(r)-2:])
}

// ProtectStudentData fully redacts high-sensitivity fields unless the viewer
// is admin or staff holding PermissionViewSensitive.
func (e *Engine) ProtectStudentData(v interface{}, viewer *auth.Identity) {
	if viewer.IsPrivileged() && viewer.HasPermission(PermissionViewSensitive) {
		return
	}
	e.walk(v, func(field string) maskFunc {
		if _, ok := e.redact[field]; ok {
			return redactValue
		}
		return nil
	})
}

// ProtectParentData partially masks guardian PII for every viewer. Viewers
// who are not admin or staff also lose the remaining high-sensitivity fields.
// A field is either masked or redacted, never both.
func (e *Engine) ProtectParentData(v interface{}, viewer *auth.Identity) {
	privileged := viewer.IsPrivileged()
	e.walk(v, func(field string) maskFunc {
		if _, ok := e.partial[field]; ok {
			return maskValue
		}
		if _, ok := e.redact[field]; ok && !privileged {
			return redactValue
		}
		return nil
	})
}

type maskFunc func(interface{}) interface{}

func redactValue(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok && (s == "" || s == Placeholder || fieldcrypt.IsEncrypted(s)) {
		return s
	}
	return Placeholder
}

func maskValue(v interface{}) interface{} {
	s, ok := v.(string)
	if !ok || s == "" || fieldcrypt.IsEncrypted(s) {
		return v
	}
	return Mask(s)
}

// walk applies pick(field) to every leaf whose lower-cased key it selects.
func (e *Engine) walk(v interface{}, pick func(field string) maskFunc) {
	switch node := v.(type) {
	case map[string]interface{}:
		for k, child := range node {
			if fn := pick(strings.ToLower(k)); fn != nil {
				switch child.(type) {
				case map[string]interface{}, []interface{}:
					// Field names are matched on leaves only.
				default:
					node[k] = fn(child)
					continue
				}
			}
			e.walk(child, pick)
		}
	case []interface{}:
		for _, child := range node {
			e.walk(child, pick)
		}
	}
}
