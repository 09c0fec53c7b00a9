package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/storeops/stockledger/internal/shared"
)

// Store context headers set by the upstream gateway.
const (
	HeaderStoreID   = "X-Store-ID"
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

// StoreContextMiddleware builds the StoreContext from gateway headers and rejects requests
// without one.
func StoreContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		storeID, err1 := strconv.ParseInt(r.Header.Get(HeaderStoreID), 10, 64)
		actorID, err2 := strconv.ParseInt(r.Header.Get(HeaderActorID), 10, 64)
		role := shared.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderActorRole))))
		if role == "" {
			role = shared.RoleStore
		}
		sc := shared.StoreContext{StoreID: storeID, ActorID: actorID, Role: role}
		if err := errors.Join(err1, err2); err != nil {
			RespondError(w, shared.Validation("http.store_context", map[string]string{
				"headers": fmt.Sprintf("%s and %s must be numeric", HeaderStoreID, HeaderActorID),
			}))
			return
		}
		if err := sc.Validate("http.store_context"); err != nil {
			RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithStore(r.Context(), sc)))
	})
}

// StoreContext returns the StoreContext attached by StoreContextMiddleware.
func StoreContext(r *http.Request) shared.StoreContext {
	sc, _ := shared.StoreFromContext(r.Context())
	return sc
}

// Validator wraps go-playground/validator and renders failures as domain validation errors.
type Validator struct {
	v *validator.Validate
}

// NewValidator builds a Validator using json tag names for fields.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

// Decode reads the JSON body into dst and validates it.
func (v *Validator) Decode(r *http.Request, op string, dst any) error {
	if err := DecodeJSON(r, dst); err != nil {
		return shared.Validation(op, map[string]string{"body": err.Error()})
	}
	return v.Struct(op, dst)
}

// Struct validates dst.
func (v *Validator) Struct(op string, dst any) error {
	err := v.v.Struct(dst)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return shared.Validation(op, map[string]string{"body": err.Error()})
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := strings.TrimPrefix(fe.Namespace(), strings.SplitN(fe.Namespace(), ".", 2)[0]+".")
		fields[name] = describe(fe)
	}
	return shared.Validation(op, fields)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "gt", "gte", "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte", "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s", fe.Tag())
	}
}

// Query reads typed query parameters and collects parse failures.
type Query struct {
	r      *http.Request
	fields map[string]string
}

// NewQuery wraps the request query string.
func NewQuery(r *http.Request) *Query {
	return &Query{r: r, fields: map[string]string{}}
}

// String returns the raw value.
func (q *Query) String(name string) string {
	return strings.TrimSpace(q.r.URL.Query().Get(name))
}

// Int returns an integer parameter or zero.
func (q *Query) Int(name string) int {
	raw := q.String(name)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		q.fields[name] = "must be an integer"
	}
	return v
}

// Int64 returns an id parameter or zero.
func (q *Query) Int64(name string) int64 {
	raw := q.String(name)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		q.fields[name] = "must be an integer"
	}
	return v
}

// Date returns a YYYY-MM-DD parameter or the zero time.
func (q *Query) Date(name string) time.Time {
	raw := q.String(name)
	if raw == "" {
		return time.Time{}
	}
	v, err := shared.ParseDate(raw)
	if err != nil {
		q.fields[name] = "must be a date (YYYY-MM-DD)"
	}
	return v
}

// Bool returns a boolean parameter.
func (q *Query) Bool(name string) bool {
	raw := q.String(name)
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		q.fields[name] = "must be true or false"
	}
	return v
}

// Err reports the collected parse failures.
func (q *Query) Err(op string) error {
	if len(q.fields) == 0 {
		return nil
	}
	return shared.Validation(op, q.fields)
}

// PathID parses a numeric URL parameter value.
func PathID(op, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Validation(op, map[string]string{"id": "must be a positive integer"})
	}
	return id, nil
}
