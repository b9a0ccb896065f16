package sql

import (
	"fmt"
	"regexp"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/uplift-analytics/warehouse-engine/pkg/apperrors"
)

// TemplateVariables are the named placeholder values substituted into a stored
// SQL template before execution. StartDate and EndDate are required by any
// template that references them.
type TemplateVariables struct {
	StartDate string
	EndDate   string
	EventName string
}

// placeholderPattern matches {{name}} placeholders, tolerating inner whitespace.
var placeholderPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// SubstituteTemplateVariables replaces {{startDate}}, {{endDate}} and
// {{eventName}} placeholders with their values. An unresolved placeholder
// fails with apperrors.ErrTemplate before the query reaches the warehouse.
// Values are escaped for use inside single-quoted SQL literals and checked
// for injection patterns first, so a substituted value cannot smuggle
// additional SQL into the statement.
func SubstituteTemplateVariables(sqlTemplate string, vars TemplateVariables) (string, error) {
	values := map[string]string{
		"startDate": vars.StartDate,
		"endDate":   vars.EndDate,
		"eventName": vars.EventName,
	}

	var substErr error
	result := placeholderPattern.ReplaceAllStringFunc(sqlTemplate, func(match string) string {
		if substErr != nil {
			return match
		}
		name := placeholderPattern.FindStringSubmatch(match)[1]
		value, known := values[name]
		if !known {
			substErr = fmt.Errorf("%w: unknown template variable {{%s}}", apperrors.ErrTemplate, name)
			return match
		}
		if value == "" {
			substErr = fmt.Errorf("%w: no value provided for {{%s}}", apperrors.ErrTemplate, name)
			return match
		}
		if isSQLi, fingerprint := libinjection.IsSQLi(value); isSQLi {
			substErr = fmt.Errorf("%w: value for {{%s}} rejected as a SQL injection attempt (fingerprint %s)", apperrors.ErrTemplate, name, fingerprint)
			return match
		}
		return escapeStringLiteral(value)
	})
	if substErr != nil {
		return "", substErr
	}

	return result, nil
}

// escapeStringLiteral doubles single quotes so a value stays inside the quoted
// literal the template places it in.
func escapeStringLiteral(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}
