package audience

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCompiler() *Compiler {
	return NewCompiler(logger.Nop()).WithClock(func() time.Time { return fixedNow })
}

func TestCompileEmptyRulesIsUniverse(t *testing.T) {
	q := newTestCompiler().Compile(models.RuleSet{Match: models.MatchAll})
	sql, args := q.CountSQL()
	assert.Equal(t, "SELECT COUNT(*) FROM (SELECT c.id FROM customers c) AS audience", sql)
	assert.Empty(t, args)
}

func TestCompileAllUsesIntersect(t *testing.T) {
	q := newTestCompiler().Compile(models.RuleSet{Match: models.MatchAll, Rules: []models.Rule{
		{Property: "city", Operator: "equals", Value: "Toronto"},
		{Property: "total_orders", Operator: "gte", Value: float64(1)},
	}})
	sql, args := q.CountSQL()

	assert.Contains(t, sql, " INTERSECT ")
	assert.NotContains(t, sql, " UNION ")
	assert.Contains(t, sql, "LOWER(a.city) = $1")
	assert.Contains(t, sql, ">= $2")
	assert.Equal(t, []any{"toronto", int64(1)}, args)
	assert.Empty(t, q.Warnings)
}

func TestCompileAnyUsesUnion(t *testing.T) {
	q := newTestCompiler().Compile(models.RuleSet{Match: models.MatchAny, Rules: []models.Rule{
		{Property: "country", Operator: "equals", Value: "ca"},
		{Property: "total_spent", Operator: "greater_than", Value: "100.5"},
	}})
	sql, args := q.SetSQL()
	assert.Equal(t, 1, strings.Count(sql, " UNION "))
	assert.Equal(t, []any{"ca", 100.5}, args)
}

func TestCompileDropsBadRules(t *testing.T) {
	rules := []models.Rule{
		{Property: "favourite_colour", Operator: "equals", Value: "blue"},
		{Property: "city", Operator: "equals", Value: "  "},
		{Property: "city", Operator: "equals", Value: nil},
		{Property: "city", Operator: "gte", Value: "a"},
		{Property: "total_orders", Operator: "contains", Value: 1.0},
		{Property: "total_orders", Operator: "equals", Value: "many"},
		{Property: "has_orders", Operator: "gte", Value: true},
		{Property: "city", Operator: "resembles", Value: "x"},
	}
	q := newTestCompiler().Compile(models.RuleSet{Match: models.MatchAll, Rules: rules})

	assert.Empty(t, q.Predicates)
	assert.Len(t, q.Warnings, len(rules))
	sql, _ := q.SetSQL()
	assert.Equal(t, universe, sql)
}

func TestCompileRecencyCutoff(t *testing.T) {
	q := newTestCompiler().Compile(models.RuleSet{Rules: []models.Rule{
		{Property: "last_order_days", Operator: "lte", Value: 30.0},
	}})
	require.Len(t, q.Predicates, 1)

	sql, args := q.SetSQL()
	assert.Contains(t, sql, "MAX(o.created_at)")
	assert.Contains(t, sql, ">= $1")
	assert.Equal(t, fixedNow.Add(-30*24*time.Hour), args[0])
}

func TestCompileContainsEscapesWildcards(t *testing.T) {
	q := newTestCompiler().Compile(models.RuleSet{Rules: []models.Rule{
		{Property: "state", Operator: "contains", Value: "50%_off"},
	}})
	_, args := q.SetSQL()
	assert.Equal(t, []any{`%50\%\_off%`}, args)
}

func TestMembershipAndNotifyNumbering(t *testing.T) {
	q := newTestCompiler().Compile(models.RuleSet{Rules: []models.Rule{
		{Property: "city", Operator: "equals", Value: "calgary"},
	}})

	sql, args := q.MembershipSQL("cust-1")
	assert.Contains(t, sql, "audience.id = $2")
	assert.Equal(t, []any{"calgary", "cust-1"}, args)

	sql, args = q.NotifySQL("Hi", "Deal")
	assert.True(t, strings.Index(sql, "$1") < strings.Index(sql, "$3"))
	assert.Equal(t, []any{"Hi", "Deal", "calgary"}, args)
}

func TestRender(t *testing.T) {
	sql, _ := Render("a = ? AND b = ? OR c = ?", nil)
	assert.Equal(t, "a = $1 AND b = $2 OR c = $3", sql)
}
