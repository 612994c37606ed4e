// Package audience compiles customer rule sets into SQL set operations.
//
// Each rule lowers to one SELECT of customer ids whose predicate is a
// correlated subquery or EXISTS evaluated by the database. Rules are combined
// with INTERSECT (match=all) or UNION (match=any). The emitted SQL uses
// positional $n placeholders numbered in order of appearance and runs
// unchanged on PostgreSQL and SQLite.
package audience

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type Property string

const (
	PropCity          Property = "city"
	PropState         Property = "state"
	PropCountry       Property = "country"
	PropTotalOrders   Property = "total_orders"
	PropTotalSpent    Property = "total_spent"
	PropLastOrderDays Property = "last_order_days"
	PropSignupDays    Property = "signup_days"
	PropHasOrders     Property = "has_orders"
)

type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpGte         Operator = "gte"
	OpLte         Operator = "lte"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

var comparison = map[Operator]string{
	OpEquals:      "=",
	OpNotEquals:   "<>",
	OpGte:         ">=",
	OpLte:         "<=",
	OpGreaterThan: ">",
	OpLessThan:    "<",
}

// Recency rules read "N days" as a window ending now, so the comparison on
// the timestamp is reversed: "lte 7 days" means created_at >= now-7d.
var recency = map[Operator]string{
	OpEquals:      ">=",
	OpLte:         ">=",
	OpLessThan:    ">",
	OpGte:         "<=",
	OpGreaterThan: "<",
}

const universe = "SELECT c.id FROM customers c"

// Predicate is one lowered rule. SQL uses ? placeholders.
type Predicate struct {
	Rule models.Rule
	SQL  string
	Args []any
}

// Query is a compiled rule set. Its SQL yields one column, id, and uses ?
// placeholders until rendered.
type Query struct {
	Match      models.MatchMode
	Predicates []Predicate
	Warnings   []string
	sql        string
	args       []any
}

// Compiler lowers rule sets. Now is injected for deterministic tests.
type Compiler struct {
	now    func() time.Time
	logger *logger.Logger
}

func NewCompiler(log *logger.Logger) *Compiler {
	return &Compiler{now: time.Now, logger: log.WithComponent("audience_compiler")}
}

// WithClock returns a copy of c reading time from now.
func (c *Compiler) WithClock(now func() time.Time) *Compiler {
	cp := *c
	cp.now = now
	return &cp
}

// Compile lowers rs. Rules that cannot be compiled are dropped and reported
// in Warnings; an empty rule list selects every customer.
func (c *Compiler) Compile(rs models.RuleSet) *Query {
	q := &Query{Match: rs.Match}
	if q.Match != models.MatchAny {
		q.Match = models.MatchAll
	}

	now := c.now().UTC()
	for i, r := range rs.Rules {
		p, err := lower(r, now)
		if err != nil {
			msg := fmt.Sprintf("rule %d (%s %s): %v", i, r.Property, r.Operator, err)
			q.Warnings = append(q.Warnings, msg)
			c.logger.Warn("Dropping audience rule", "index", i, "property", r.Property, "operator", r.Operator, "reason", err.Error())
			continue
		}
		q.Predicates = append(q.Predicates, p)
	}

	if len(q.Predicates) == 0 {
		q.sql = universe
		return q
	}

	set := " INTERSECT "
	if q.Match == models.MatchAny {
		set = " UNION "
	}
	parts := make([]string, 0, len(q.Predicates))
	for _, p := range q.Predicates {
		parts = append(parts, p.SQL)
		q.args = append(q.args, p.Args...)
	}
	q.sql = strings.Join(parts, set)
	return q
}

// CountSQL counts the matching customers.
func (q *Query) CountSQL() (string, []any) {
	return Render("SELECT COUNT(*) FROM ("+q.sql+") AS audience", q.args)
}

// MembershipSQL tests whether customerID belongs to the audience.
func (q *Query) MembershipSQL(customerID any) (string, []any) {
	args := append(append([]any{}, q.args...), customerID)
	return Render("SELECT EXISTS (SELECT 1 FROM ("+q.sql+") AS audience WHERE audience.id = ?)", args)
}

// NotifySQL inserts one customer notification per member.
func (q *Query) NotifySQL(title, body string) (string, []any) {
	args := append([]any{title, body}, q.args...)
	return Render("INSERT INTO notifications (recipient_kind, recipient_id, title, body) "+
		"SELECT 'customer', audience.id, CAST(? AS TEXT), CAST(? AS TEXT) FROM ("+q.sql+") AS audience", args)
}

// MembersSQL lists member ids in a stable order.
func (q *Query) MembersSQL(limit, offset int) (string, []any) {
	args := append(append([]any{}, q.args...), limit, offset)
	return Render("SELECT audience.id FROM ("+q.sql+") AS audience ORDER BY audience.id LIMIT ? OFFSET ?", args)
}

// SetSQL is the bare compound select, rendered.
func (q *Query) SetSQL() (string, []any) {
	return Render(q.sql, q.args)
}

// Render numbers ? placeholders as $1..$n. Compiled SQL never contains a
// literal question mark; values always travel as arguments.
func Render(sql string, args []any) (string, []any) {
	var b strings.Builder
	b.Grow(len(sql) + 8)
	n := 0
	for i := 0; i < len(sql); i++ {
		if sql[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(sql[i])
	}
	return b.String(), args
}

func lower(r models.Rule, now time.Time) (Predicate, error) {
	prop := Property(strings.ToLower(strings.TrimSpace(r.Property)))
	op := Operator(strings.ToLower(strings.TrimSpace(r.Operator)))
	raw, ok := scalar(r.Value)
	if !ok {
		return Predicate{}, fmt.Errorf("empty value")
	}
	if _, known := comparison[op]; !known && op != OpContains {
		return Predicate{}, fmt.Errorf("unknown operator")
	}

	var cond string
	var args []any

	switch prop {
	case PropCity, PropState, PropCountry:
		col := "LOWER(a." + string(prop) + ")"
		v := strings.ToLower(raw)
		switch op {
		case OpEquals, OpNotEquals:
			cond = "EXISTS (SELECT 1 FROM customer_addresses a WHERE a.customer_id = c.id AND " + col + " " + comparison[op] + " ?)"
			args = []any{v}
		case OpContains:
			cond = "EXISTS (SELECT 1 FROM customer_addresses a WHERE a.customer_id = c.id AND " + col + " LIKE ? ESCAPE '\\')"
			args = []any{"%" + escapeLike(v) + "%"}
		default:
			return Predicate{}, fmt.Errorf("operator not applicable to %s", prop)
		}

	case PropTotalOrders:
		n, err := parseCount(raw)
		if err != nil {
			return Predicate{}, err
		}
		sqlOp, ok := comparison[op]
		if !ok {
			return Predicate{}, fmt.Errorf("operator not applicable to %s", prop)
		}
		cond = "(SELECT COUNT(*) FROM orders o WHERE o.customer_id = c.id AND " + successFilter() + ") " + sqlOp + " ?"
		args = []any{n}

	case PropTotalSpent:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Predicate{}, fmt.Errorf("value is not a number")
		}
		sqlOp, ok := comparison[op]
		if !ok {
			return Predicate{}, fmt.Errorf("operator not applicable to %s", prop)
		}
		cond = "(SELECT COALESCE(SUM(o.total), 0) FROM orders o WHERE o.customer_id = c.id AND " + successFilter() + ") " + sqlOp + " ?"
		args = []any{f}

	case PropLastOrderDays:
		n, err := parseCount(raw)
		if err != nil {
			return Predicate{}, err
		}
		cutoff := now.Add(-time.Duration(n) * 24 * time.Hour)
		if op == OpNotEquals {
			cond = "NOT EXISTS (SELECT 1 FROM orders o WHERE o.customer_id = c.id AND " + successFilter() + " AND o.created_at >= ?)"
			args = []any{cutoff}
			break
		}
		sqlOp, ok := recency[op]
		if !ok {
			return Predicate{}, fmt.Errorf("operator not applicable to %s", prop)
		}
		cond = "(SELECT MAX(o.created_at) FROM orders o WHERE o.customer_id = c.id AND " + successFilter() + ") " + sqlOp + " ?"
		args = []any{cutoff}

	case PropSignupDays:
		n, err := parseCount(raw)
		if err != nil {
			return Predicate{}, err
		}
		cutoff := now.Add(-time.Duration(n) * 24 * time.Hour)
		if op == OpNotEquals {
			cond = "c.created_at < ?"
			args = []any{cutoff}
			break
		}
		sqlOp, ok := recency[op]
		if !ok {
			return Predicate{}, fmt.Errorf("operator not applicable to %s", prop)
		}
		cond = "c.created_at " + sqlOp + " ?"
		args = []any{cutoff}

	case PropHasOrders:
		want, err := parseBool(raw)
		if err != nil {
			return Predicate{}, err
		}
		switch op {
		case OpEquals:
		case OpNotEquals:
			want = !want
		default:
			return Predicate{}, fmt.Errorf("operator not applicable to %s", prop)
		}
		cond = "EXISTS (SELECT 1 FROM orders o WHERE o.customer_id = c.id)"
		if !want {
			cond = "NOT " + cond
		}

	default:
		return Predicate{}, fmt.Errorf("unknown property")
	}

	return Predicate{Rule: r, SQL: universe + " WHERE " + cond, Args: args}, nil
}

func successFilter() string {
	quoted := make([]string, 0, len(models.SuccessStatuses))
	for _, s := range models.SuccessStatuses {
		quoted = append(quoted, "'"+string(s)+"'")
	}
	return "o.status IN (" + strings.Join(quoted, ", ") + ")"
}

// scalar renders a JSON scalar as trimmed text; false means empty.
func scalar(v any) (string, bool) {
	var s string
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case bool:
		s = strconv.FormatBool(t)
	default:
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func parseCount(raw string) (int64, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("value is not a non-negative number")
	}
	return int64(f), nil
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "true", "yes", "1":
		return true, nil
	case "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("value is not a boolean")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
