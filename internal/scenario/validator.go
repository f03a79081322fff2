package scenario

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/swingbuddy/swingbuddy/internal/errs"
)

type RuleKind string

const (
	KindText     RuleKind = "text"
	KindNumber   RuleKind = "number"
	KindDate     RuleKind = "date"
	KindTime     RuleKind = "time"
	KindEmail    RuleKind = "email"
	KindPhone    RuleKind = "phone"
	KindLocation RuleKind = "location"
	KindChoice   RuleKind = "choice"
)

// ValidationRule is a value, not a callback: serializable and testable
// without a runtime. Zero length bounds mean "no bound".
type ValidationRule struct {
	Kind         RuleKind
	MinLength    int
	MaxLength    int
	Pattern      string
	Choices      []string
	ErrorMessage string

	compiled *regexp.Regexp
}

var timeOfDayRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// compile prepares the full-match pattern. Called at registration; Validate
// falls back to compiling lazily for rules built outside a registry.
func (r *ValidationRule) compile() error {
	if r.Pattern == "" || r.compiled != nil {
		return nil
	}
	re, err := regexp.Compile("^(?:" + r.Pattern + ")$")
	if err != nil {
		return err
	}
	r.compiled = re
	return nil
}

func (r *ValidationRule) fail(fallback string) error {
	msg := r.ErrorMessage
	if msg == "" {
		msg = fallback
	}
	return errs.New(errs.ErrInvalidInput, msg)
}

// Validate checks input against the rule. It is deterministic and
// side-effect-free apart from lazy pattern compilation.
func Validate(rule *ValidationRule, input string) error {
	if rule == nil {
		return nil
	}
	if input == "" {
		return rule.fail("This field cannot be empty.")
	}

	length := utf8.RuneCountInString(input)
	if rule.MinLength > 0 && length < rule.MinLength {
		return rule.fail("The value is too short.")
	}
	if rule.MaxLength > 0 && length > rule.MaxLength {
		return rule.fail("The value is too long.")
	}
	if rule.Pattern != "" {
		if err := rule.compile(); err != nil {
			return errs.Wrap(errs.ErrConfig, err, "bad validation pattern")
		}
		if !rule.compiled.MatchString(input) {
			return rule.fail("The value contains invalid characters.")
		}
	}

	switch rule.Kind {
	case KindText, KindLocation, "":
		// Length and pattern checks only.
	case KindNumber:
		if _, err := strconv.ParseFloat(input, 64); err != nil {
			return rule.fail("Please enter a number.")
		}
	case KindDate:
		if _, err := time.Parse("2006-01-02", input); err != nil {
			return rule.fail("Please enter a date as YYYY-MM-DD.")
		}
	case KindTime:
		if !timeOfDayRe.MatchString(input) {
			return rule.fail("Please enter a time as HH:MM.")
		}
	case KindEmail:
		if length <= 5 || !strings.Contains(input, "@") || !strings.Contains(input, ".") {
			return rule.fail("Please enter a valid email address.")
		}
	case KindPhone:
		if length < 10 || !isPhone(input) {
			return rule.fail("Please enter a valid phone number.")
		}
	case KindChoice:
		for _, choice := range rule.Choices {
			if input == choice {
				return nil
			}
		}
		return rule.fail("Please pick one of the offered options.")
	default:
		return errs.Newf(errs.ErrConfig, "unknown validation kind %q", rule.Kind)
	}
	return nil
}

func isPhone(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '+' || r == '-' || r == ' ':
		default:
			return false
		}
	}
	return true
}
