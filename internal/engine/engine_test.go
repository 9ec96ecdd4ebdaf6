package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"manutenzioni/internal/checklist"
	"manutenzioni/internal/config"
	"manutenzioni/internal/db"
	"manutenzioni/internal/domain"
	"manutenzioni/internal/engine"
	"manutenzioni/internal/metrics"
	"manutenzioni/internal/migrate"
	"manutenzioni/internal/repo"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.AlertEvent
	err    error
}

func (r *recorder) Emit(_ context.Context, evt domain.AlertEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.err
}

func (r *recorder) kinds() []domain.AlertKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AlertKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type testEnv struct {
	Engine engine.Engine
	Alerts *recorder
	Ctx    context.Context
}

var testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)

	rec := &recorder{}
	eng := engine.New(conn, checklist.NewCatalog(config.Default().Checklist), rec, zap.NewNop(), metrics.New(prometheus.NewRegistry()))
	eng.Now = func() time.Time { return testNow }
	return testEnv{Engine: eng, Alerts: rec, Ctx: context.Background()}
}

func (env testEnv) create(t *testing.T, item, asset, due, freq string, lead int) domain.Scadenza {
	t.Helper()
	s, err := env.Engine.CreateScadenza(env.Ctx, engine.CreateOptions{
		ChecklistItemID: item,
		Civico:          "Via Roma 1",
		AssetID:         asset,
		DueDate:         due,
		Recurrence:      freq,
		LeadTimeDays:    lead,
		ActorID:         "tester",
	})
	require.NoError(t, err)
	return s
}

func TestCreateScadenzaValidation(t *testing.T) {
	env := newTestEnv(t)
	base := engine.CreateOptions{
		ChecklistItemID: "caldaia-pulizia-bruciatore",
		Civico:          "Via Roma 1",
		AssetID:         "CALDAIA-1",
		DueDate:         "2024-04-01",
		Recurrence:      "mensile",
	}

	bad := base
	bad.Recurrence = "quindicinale"
	_, err := env.Engine.CreateScadenza(env.Ctx, bad)
	require.ErrorIs(t, err, domain.ErrInvalidRecurrence)

	bad = base
	bad.DueDate = "01/04/2024"
	_, err = env.Engine.CreateScadenza(env.Ctx, bad)
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	bad = base
	bad.LeadTimeDays = -1
	_, err = env.Engine.CreateScadenza(env.Ctx, bad)
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	bad = base
	bad.ChecklistItemID = "missing"
	_, err = env.Engine.CreateScadenza(env.Ctx, bad)
	require.ErrorIs(t, err, domain.ErrChecklistItemNotFound)

	bad = base
	bad.AssetType = "ascensore"
	_, err = env.Engine.CreateScadenza(env.Ctx, bad)
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	s, err := env.Engine.CreateScadenza(env.Ctx, base)
	require.NoError(t, err)
	assert.Equal(t, domain.StateScheduled, s.State)
	assert.Equal(t, "caldaia", s.AssetType)
	assert.Equal(t, domain.RecurrenceMonthly, s.Recurrence)

	_, err = env.Engine.CreateScadenza(env.Ctx, base)
	require.ErrorIs(t, err, domain.ErrOpenInstanceExists)
}

func TestCompleteRecurringSchedulesSuccessor(t *testing.T) {
	env := newTestEnv(t)
	s := env.create(t, "caldaia-pulizia-bruciatore", "CALDAIA-1", "2024-01-31", "mensile", 7)

	res, err := env.Engine.CompleteScadenza(env.Ctx, engine.CompleteOptions{
		ScadenzaID: s.ID,
		Operator:   "mario.rossi",
		Checklist:  []engine.ChecklistEntry{{Code: "CAL-01", Answer: "Conforme"}},
	})
	require.NoError(t, err)
	require.Len(t, res.Completions, 1)
	c := res.Completions[0]
	assert.Equal(t, domain.StateRescheduled, c.Scadenza.State)
	require.NotNil(t, c.Successor)
	assert.Equal(t, "2024-02-29", c.Successor.DueDateString())
	assert.Equal(t, s.ID, c.Successor.PreviousID)
	assert.Equal(t, domain.StateScheduled, c.Successor.State)
	assert.Equal(t, 7, c.Successor.LeadTimeDays)
	assert.True(t, c.Execution.Done)
	assert.Empty(t, res.Alerts)

	stored, err := env.Engine.GetScadenza(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRescheduled, stored.State)
	require.NotNil(t, stored.CompletedAt)

	open, err := env.Engine.ListScadenze(env.Ctx, repo.ScadenzaFilter{State: domain.StateScheduled})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, c.Successor.ID, open[0].ID)

	history, err := env.Engine.History(env.Ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "mario.rossi", history[0].Operator)
	assert.Equal(t, "Conforme", history[0].Answer)

	// the successor can be completed in turn
	res, err = env.Engine.CompleteScadenza(env.Ctx, engine.CompleteOptions{ScadenzaID: c.Successor.ID, Operator: "mario.rossi"})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-29", res.Completions[0].Successor.DueDateString())
}

func TestCompleteNonRecurring(t *testing.T) {
	env := newTestEnv(t)
	s := env.create(t, "estintore-pressione", "EST-7", "2024-03-10", "nessuna", 0)

	res, err := env.Engine.CompleteScadenza(env.Ctx, engine.CompleteOptions{
		ScadenzaID: s.ID,
		Operator:   "anna",
		Checklist:  []engine.ChecklistEntry{{Answer: "Non Eseguito"}},
	})
	require.NoError(t, err)
	c := res.Completions[0]
	assert.Equal(t, domain.StateCompleted, c.Scadenza.State)
	assert.Nil(t, c.Successor)
	assert.False(t, c.Execution.Done)

	open, err := env.Engine.ListScadenze(env.Ctx, repo.ScadenzaFilter{State: domain.StateScheduled})
	require.NoError(t, err)
	assert.Empty(t, open)

	_, err = env.Engine.CompleteScadenza(env.Ctx, engine.CompleteOptions{ScadenzaID: s.ID, Operator: "anna"})
	require.ErrorIs(t, err, domain.ErrAlreadyCompleted)
}

func TestCompleteRequiresOperator(t *testing.T) {
	env := newTestEnv(t)
	s := env.create(t, "estintore-pressione", "EST-7", "2024-03-10", "annuale", 0)

	_, err := env.Engine.CompleteScadenza(env.Ctx, engine.CompleteOptions{ScadenzaID: s.ID, Operator: "   "})
	require.ErrorIs(t, err, domain.ErrMissingOperator)

	stored, err := env.Engine.GetScadenza(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateScheduled, stored.State)

	_, err = env.Engine.CompleteScadenza(env.Ctx, engine.CompleteOptions{ScadenzaID: "missing", Operator: "anna"})
	require.ErrorIs(t, err, domain.ErrInstanceNotFound)
}

func TestCompleteRejectsUnknownChecklistCode(t *testing.T) {
	env := newTestEnv(t)
	s := env.create(t, "estintore-pressione", "EST-7", "2024-03-10", "annuale", 0)
	_, err := env.Engine.CompleteScadenza(env.Ctx, engine.CompleteOptions{
		ScadenzaID: s.ID,
		Operator:   "anna",
		Checklist:  []engine.ChecklistEntry{{Code: "CAL-01", Answer: "Conforme"}},
	})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestConcurrentCompletionSucceedsOnce(t *testing.T) {
	env := newTestEnv(t)
	s := env.create(t, "caldaia-analisi-fumi", "CALDAIA-1", "2024-03-10", "annuale", 0)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.CompleteScadenza(env.Ctx, engine.CompleteOptions{ScadenzaID: s.ID, Operator: "op"})
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrAlreadyCompleted):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	successors, err := env.Engine.ListScadenze(env.Ctx, repo.ScadenzaFilter{PreviousID: s.ID})
	require.NoError(t, err)
	assert.Len(t, successors, 1)
	history, err := env.Engine.History(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCompletionAlerts(t *testing.T) {
	cases := []struct {
		name   string
		entry  engine.ChecklistEntry
		note   string
		expect []domain.AlertKind
	}{
		{name: "clean", entry: engine.ChecklistEntry{Code: "CAL-01", Answer: "Conforme"}},
		{name: "notes only", entry: engine.ChecklistEntry{Code: "CAL-01", Answer: "Conforme", Notes: "ugello sporco"}, expect: []domain.AlertKind{domain.AlertKindNote}},
		{name: "top level note", entry: engine.ChecklistEntry{Code: "CAL-01", Answer: "Conforme"}, note: "accesso difficile", expect: []domain.AlertKind{domain.AlertKindNote}},
		{name: "alert answer only", entry: engine.ChecklistEntry{Code: "CAL-01", Answer: "non conforme"}, expect: []domain.AlertKind{domain.AlertKindAnswer}},
		{name: "both", entry: engine.ChecklistEntry{Code: "CAL-01", Answer: "Non Conforme", Notes: "perdita"}, note: "ricontrollare", expect: []domain.AlertKind{domain.AlertKindNote, domain.AlertKindAnswer}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			s := env.create(t, "caldaia-pulizia-bruciatore", "CALDAIA-1", "2024-03-10", "nessuna", 0)
			res, err := env.Engine.CompleteScadenza(env.Ctx, engine.CompleteOptions{
				ScadenzaID: s.ID,
				Operator:   "op",
				Notes:      tc.note,
				Checklist:  []engine.ChecklistEntry{tc.entry},
			})
			require.NoError(t, err)
			assert.Len(t, res.Alerts, len(tc.expect))
			if len(tc.expect) == 0 {
				assert.Empty(t, env.Alerts.kinds())
				return
			}
			assert.Equal(t, tc.expect, env.Alerts.kinds())
			for _, a := range res.Alerts {
				assert.Equal(t, "Via Roma 1", a.Civico)
				assert.Equal(t, "CALDAIA-1", a.AssetID)
				assert.Equal(t, s.ID, a.ScadenzaID)
			}
		})
	}
}

func TestEmitterFailureDoesNotUndoCompletion(t *testing.T) {
	env := newTestEnv(t)
	env.Alerts.err = errors.New("bot offline")
	s := env.create(t, "caldaia-pulizia-bruciatore", "CALDAIA-1", "2024-03-10", "nessuna", 0)
	_, err := env.Engine.CompleteScadenza(env.Ctx, engine.CompleteOptions{
		ScadenzaID: s.ID,
		Operator:   "op",
		Checklist:  []engine.ChecklistEntry{{Code: "CAL-01", Answer: "Non Conforme"}},
	})
	require.NoError(t, err)
	stored, err := env.Engine.GetScadenza(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, stored.State)
}

func seedGroup(t *testing.T, env testEnv) []domain.Scadenza {
	t.Helper()
	return []domain.Scadenza{
		env.create(t, "caldaia-pulizia-bruciatore", "CALDAIA-1", "2024-03-05", "annuale", 10),
		env.create(t, "caldaia-analisi-fumi", "CALDAIA-1", "2024-03-05", "biennale", 10),
		env.create(t, "caldaia-verifica-pressione", "CALDAIA-1", "2024-03-05", "nessuna", 10),
	}
}

func membersOf(group []domain.Scadenza) []engine.GroupMember {
	out := make([]engine.GroupMember, 0, len(group))
	for _, s := range group {
		out = append(out, engine.GroupMember{ScadenzaID: s.ID})
	}
	return out
}

func TestCompleteGroup(t *testing.T) {
	env := newTestEnv(t)
	group := seedGroup(t, env)

	res, err := env.Engine.CompleteGroup(env.Ctx, engine.GroupCompleteOptions{
		Members:  membersOf(group),
		Operator: "luigi",
		Notes:    "centrale termica allagata",
		Checklist: []engine.ChecklistEntry{
			{Code: "CAL-01", Answer: "Conforme"},
			{Code: "CAL-02", Answer: "Non Conforme", Notes: "CO alto"},
			{Code: "CAL-03", Answer: "Conforme"},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Completions, 3)
	assert.Equal(t, domain.StateRescheduled, res.Completions[0].Scadenza.State)
	assert.Equal(t, "2025-03-05", res.Completions[0].Successor.DueDateString())
	assert.Equal(t, "2026-03-05", res.Completions[1].Successor.DueDateString())
	assert.Equal(t, domain.StateCompleted, res.Completions[2].Scadenza.State)
	assert.Nil(t, res.Completions[2].Successor)
	for _, c := range res.Completions {
		assert.Contains(t, c.Execution.Notes, "centrale termica allagata")
	}
	assert.Equal(t, "CO alto; centrale termica allagata", res.Completions[1].Execution.Notes)

	// member note + member alert answer + one group-level note
	assert.Equal(t, []domain.AlertKind{domain.AlertKindNote, domain.AlertKindAnswer, domain.AlertKindNote}, env.Alerts.kinds())
	groupAlert := res.Alerts[2]
	assert.Empty(t, groupAlert.ScadenzaID)
	assert.Contains(t, groupAlert.Message, "3 voci di manutenzione")

	groups, err := env.Engine.ListGroups(env.Ctx, domain.StateScheduled, env.Engine.Today())
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "2025-03-05", groups[0].Key.DueDate)
}

func TestCompleteGroupRollsBackOnMemberFailure(t *testing.T) {
	env := newTestEnv(t)
	group := seedGroup(t, env)
	_, err := env.Engine.DB.ExecContext(env.Ctx, `CREATE TRIGGER fail_third BEFORE INSERT ON esecuzioni
WHEN NEW.scadenza_id = '`+group[2].ID+`'
BEGIN SELECT RAISE(ABORT, 'disk full'); END`)
	require.NoError(t, err)

	_, err = env.Engine.CompleteGroup(env.Ctx, engine.GroupCompleteOptions{Members: membersOf(group), Operator: "luigi", Notes: "x"})
	require.ErrorIs(t, err, domain.ErrTransactionAborted)

	for _, s := range group {
		stored, err := env.Engine.GetScadenza(env.Ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StateScheduled, stored.State)
		history, err := env.Engine.History(env.Ctx, s.ID)
		require.NoError(t, err)
		assert.Empty(t, history)
	}
	all, err := env.Engine.ListScadenze(env.Ctx, repo.ScadenzaFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Empty(t, env.Alerts.kinds())
}

func TestCompleteGroupRejectsPartialSubmission(t *testing.T) {
	env := newTestEnv(t)
	group := seedGroup(t, env)

	_, err := env.Engine.CompleteGroup(env.Ctx, engine.GroupCompleteOptions{Members: membersOf(group[:2]), Operator: "luigi"})
	require.ErrorIs(t, err, domain.ErrGroupChanged)

	_, err = env.Engine.CompleteGroup(env.Ctx, engine.GroupCompleteOptions{Members: membersOf(group), Operator: ""})
	require.ErrorIs(t, err, domain.ErrMissingOperator)

	other := env.create(t, "estintore-pressione", "EST-1", "2024-03-05", "nessuna", 0)
	_, err = env.Engine.CompleteGroup(env.Ctx, engine.GroupCompleteOptions{
		Members:  membersOf(append([]domain.Scadenza{}, group[0], other)),
		Operator: "luigi",
	})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = env.Engine.CompleteScadenza(env.Ctx, engine.CompleteOptions{ScadenzaID: group[0].ID, Operator: "luigi"})
	require.NoError(t, err)
	_, err = env.Engine.CompleteGroup(env.Ctx, engine.GroupCompleteOptions{Members: membersOf(group), Operator: "luigi"})
	require.ErrorIs(t, err, domain.ErrAlreadyCompleted)
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t)
	group := seedGroup(t, env)
	single := env.create(t, "estintore-pressione", "EST-1", "2024-04-01", "nessuna", 0)

	deleted, err := env.Engine.CancelGroup(env.Ctx, "Via Roma 1", "CALDAIA-1", "2024-03-05", "tester")
	require.NoError(t, err)
	assert.Len(t, deleted, len(group))
	_, err = env.Engine.CancelGroup(env.Ctx, "Via Roma 1", "CALDAIA-1", "2024-03-05", "tester")
	require.ErrorIs(t, err, domain.ErrInstanceNotFound)

	_, err = env.Engine.CompleteScadenza(env.Ctx, engine.CompleteOptions{ScadenzaID: single.ID, Operator: "op"})
	require.NoError(t, err)
	_, err = env.Engine.CancelScadenza(env.Ctx, single.ID, "tester")
	require.ErrorIs(t, err, domain.ErrAlreadyCompleted)

	fresh := env.create(t, "ascensore-funi", "ASC-1", "2024-05-01", "semestrale", 15)
	_, err = env.Engine.CancelScadenza(env.Ctx, fresh.ID, "tester")
	require.NoError(t, err)
	_, err = env.Engine.GetScadenza(env.Ctx, fresh.ID)
	require.ErrorIs(t, err, domain.ErrInstanceNotFound)

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 1, "scadenza", fresh.ID)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "scadenza.cancelled", evts[0].Type)
}

func TestCancelGroupRollsBackOnMemberFailure(t *testing.T) {
	env := newTestEnv(t)
	group := seedGroup(t, env)
	_, err := env.Engine.DB.ExecContext(env.Ctx, `CREATE TRIGGER keep_third BEFORE DELETE ON scadenze
WHEN OLD.id = '`+group[2].ID+`'
BEGIN SELECT RAISE(ABORT, 'locked'); END`)
	require.NoError(t, err)

	_, err = env.Engine.CancelGroup(env.Ctx, "Via Roma 1", "CALDAIA-1", "2024-03-05", "tester")
	require.ErrorIs(t, err, domain.ErrTransactionAborted)

	for _, s := range group {
		stored, err := env.Engine.GetScadenza(env.Ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StateScheduled, stored.State)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "gruppo", "")
	require.NoError(t, err)
	assert.Empty(t, evts)
}

// cancelAfterLookup ends the request context once the checklist item has
// been read, so the failure lands between validation and the write.
type cancelAfterLookup struct {
	checklist.Provider
	cancel context.CancelFunc
}

func (p cancelAfterLookup) Item(ctx context.Context, id string) (domain.ChecklistItem, error) {
	item, err := p.Provider.Item(ctx, id)
	p.cancel()
	return item, err
}

func TestCompleteStopsWhenContextEnds(t *testing.T) {
	env := newTestEnv(t)
	s := env.create(t, "caldaia-pulizia-bruciatore", "CALDAIA-1", "2024-03-05", "annuale", 10)

	ctx, cancel := context.WithTimeout(env.Ctx, time.Minute)
	defer cancel()
	eng := env.Engine
	eng.Checklist = cancelAfterLookup{Provider: env.Engine.Checklist, cancel: cancel}

	_, err := eng.CompleteScadenza(ctx, engine.CompleteOptions{ScadenzaID: s.ID, Operator: "anna"})
	require.ErrorIs(t, err, context.Canceled)

	stored, err := env.Engine.GetScadenza(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateScheduled, stored.State)
	assert.Equal(t, s.Version, stored.Version)
	all, err := env.Engine.ListScadenze(env.Ctx, repo.ScadenzaFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
	history, err := env.Engine.History(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Empty(t, env.Alerts.kinds())
}

func TestCompleteRejectsUnknownAnswer(t *testing.T) {
	env := newTestEnv(t)
	s := env.create(t, "caldaia-analisi-fumi", "CALDAIA-2", "2024-03-10", "annuale", 0)

	_, err := env.Engine.CompleteScadenza(env.Ctx, engine.CompleteOptions{
		ScadenzaID: s.ID,
		Operator:   "anna",
		Checklist:  []engine.ChecklistEntry{{Code: "CAL-02", Answer: "Non Conform"}},
	})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	stored, err := env.Engine.GetScadenza(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateScheduled, stored.State)

	group := seedGroup(t, env)
	members := membersOf(group)
	members[1].Answer = "Funzionante"
	_, err = env.Engine.CompleteGroup(env.Ctx, engine.GroupCompleteOptions{Members: members, Operator: "luigi"})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	for _, m := range group {
		stored, err := env.Engine.GetScadenza(env.Ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StateScheduled, stored.State)
	}
	assert.Empty(t, env.Alerts.kinds())
}

func TestAuditEventsUseEngineClock(t *testing.T) {
	env := newTestEnv(t)
	s := env.create(t, "ascensore-funi", "ASC-9", "2024-03-20", "semestrale", 15)
	_, err := env.Engine.CompleteScadenza(env.Ctx, engine.CompleteOptions{ScadenzaID: s.ID, Operator: "anna"})
	require.NoError(t, err)

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "scadenza", s.ID)
	require.NoError(t, err)
	require.Len(t, evts, 3)
	for _, evt := range evts {
		assert.Equal(t, testNow.Format(time.RFC3339), evt.TS, evt.Type)
	}
}

func TestListGroupsAndForms(t *testing.T) {
	env := newTestEnv(t)
	group := seedGroup(t, env)
	single := env.create(t, "estintore-pressione", "EST-1", "2024-02-20", "nessuna", 0)
	later := env.create(t, "ascensore-funi", "ASC-1", "2024-06-01", "semestrale", 15)

	groups, err := env.Engine.ListGroups(env.Ctx, "", env.Engine.Today())
	require.NoError(t, err)
	require.Len(t, groups, 3)

	assert.Equal(t, single.ID, groups[0].Members[0].ID)
	assert.Equal(t, "Verifica manometro", groups[0].Name)
	assert.Equal(t, domain.StatusOverdue, groups[0].Status)
	assert.Equal(t, -10, groups[0].DaysRemaining)

	assert.Equal(t, "3 voci di manutenzione", groups[1].Name)
	assert.Equal(t, domain.StatusUrgent, groups[1].Status)
	assert.Equal(t, 4, groups[1].DaysRemaining)
	require.Len(t, groups[1].Items, 3)
	assert.Equal(t, "CAL-02", groups[1].Items[1].Code)

	assert.Equal(t, later.ID, groups[2].Members[0].ID)
	assert.Equal(t, domain.StatusScheduled, groups[2].Status)

	_, err = env.Engine.ListGroups(env.Ctx, domain.StateCompleted, env.Engine.Today())
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	rows, err := env.Engine.FormForGroup(env.Ctx, "Via Roma 1", "CALDAIA-1", "2024-03-05")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, group[0].ID, rows[0].ScadenzaID)
	assert.True(t, rows[0].Item.Required)
	assert.False(t, rows[2].Item.Required)

	rows, err = env.Engine.FormForScadenza(env.Ctx, single.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "EST-01", rows[0].Item.Code)

	_, err = env.Engine.FormForGroup(env.Ctx, "Via Roma 1", "CALDAIA-1", "2024-03-06")
	require.ErrorIs(t, err, domain.ErrInstanceNotFound)
}

func TestScanAlertsIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "estintore-pressione", "EST-1", "2024-02-20", "nessuna", 0)
	env.create(t, "ascensore-funi", "ASC-1", "2024-03-05", "semestrale", 7)
	env.create(t, "caldaia-analisi-fumi", "CALDAIA-1", "2024-06-01", "annuale", 7)

	n, err := env.Engine.ScanAlerts(env.Ctx, env.Engine.Today())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []domain.AlertKind{domain.AlertKindOverdue, domain.AlertKindUrgent}, env.Alerts.kinds())

	n, err = env.Engine.ScanAlerts(env.Ctx, env.Engine.Today())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// the urgent one becomes overdue later and is reported once more
	n, err = env.Engine.ScanAlerts(env.Ctx, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
