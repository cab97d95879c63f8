package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"leadline/internal/config"
	"leadline/internal/domain"
	"leadline/internal/events"
	"leadline/internal/repo"
)

// Engine owns the lead lifecycle: the pipeline state machine, scoring,
// predictions, the escalation sweep, and campaign tracking. All shared
// state lives in the store; Engine itself is safe to copy.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time

	// Recompute, when set, submits a contact for asynchronous score
	// recomputation. Submission is non-blocking and best-effort: a
	// dropped or failed recompute never fails the triggering operation.
	Recompute func(contactID string)
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) submitRecompute(contactID string) {
	if e.Recompute != nil {
		e.Recompute(contactID)
	}
}

// stageGraph defines the legal forward and explicit re-qualification
// edges. Any non-terminal stage may additionally move to lost with a
// reason; won and lost have no outgoing edges.
var stageGraph = map[string][]string{
	domain.StageNew:         {domain.StageContacted},
	domain.StageContacted:   {domain.StageQualified},
	domain.StageQualified:   {domain.StageProposal, domain.StageContacted},
	domain.StageProposal:    {domain.StageNegotiation, domain.StageQualified},
	domain.StageNegotiation: {domain.StageWon, domain.StageProposal, domain.StageContacted},
}

func ensureStageTransition(from, to string) error {
	if domain.IsTerminalStage(from) {
		return InvalidTransitionError{From: from, To: to}
	}
	if to == domain.StageLost {
		return nil
	}
	for _, next := range stageGraph[from] {
		if next == to {
			return nil
		}
	}
	return InvalidTransitionError{From: from, To: to}
}

// ContactCreateOptions are parameters for creating a contact.
type ContactCreateOptions struct {
	ID            string
	Name          string
	Source        string
	AssignedAgent string
	ActorID       string
}

func (e Engine) CreateContact(ctx context.Context, opts ContactCreateOptions) (domain.Contact, error) {
	if opts.Name == "" {
		return domain.Contact{}, ValidationError("name is required")
	}
	if opts.Source == "" {
		opts.Source = "unknown"
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	c := domain.Contact{
		ID:            id,
		Name:          opts.Name,
		Source:        opts.Source,
		Stage:         domain.StageNew,
		AssignedAgent: optionalString(opts.AssignedAgent),
		CreatedAt:     now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contact{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertContact(ctx, tx, c); err != nil {
		return domain.Contact{}, err
	}
	if err := e.Events.Append(ctx, tx, "contact.created", "contact", c.ID, opts.ActorID, events.EventPayload{
		"source": c.Source,
		"stage":  c.Stage,
	}); err != nil {
		return domain.Contact{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contact{}, err
	}
	return c, nil
}

// InteractionOptions are parameters for logging one touch.
type InteractionOptions struct {
	ContactID  string
	Type       string
	Payload    string
	OccurredAt time.Time
	ActorID    string
}

// AddInteraction appends one interaction and bumps the contact's
// last_interaction_at inside the same transaction. Interactions are
// append-only; there is no update or delete path.
func (e Engine) AddInteraction(ctx context.Context, opts InteractionOptions) (domain.Interaction, error) {
	if opts.ContactID == "" {
		return domain.Interaction{}, ValidationError("contact_id is required")
	}
	if opts.Type == "" {
		return domain.Interaction{}, ValidationError("interaction type is required")
	}
	if _, err := e.Repo.GetContact(ctx, opts.ContactID); err != nil {
		return domain.Interaction{}, err
	}
	occurred := opts.OccurredAt
	if occurred.IsZero() {
		occurred = e.now()
	}
	in := domain.Interaction{
		ID:         uuid.New().String(),
		ContactID:  opts.ContactID,
		Type:       opts.Type,
		OccurredAt: occurred.UTC().Format(time.RFC3339),
		Payload:    opts.Payload,
		ActorID:    opts.ActorID,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Interaction{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertInteraction(ctx, tx, in); err != nil {
		return domain.Interaction{}, err
	}
	if err := e.Repo.TouchLastInteraction(ctx, tx, in.ContactID, in.OccurredAt); err != nil {
		return domain.Interaction{}, err
	}
	if err := e.Events.Append(ctx, tx, "interaction.logged", "contact", in.ContactID, opts.ActorID, events.EventPayload{
		"type": in.Type,
	}); err != nil {
		return domain.Interaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Interaction{}, err
	}
	return in, nil
}

// MoveOptions are parameters for a pipeline stage change.
type MoveOptions struct {
	ContactID   string
	ToStage     string
	LostReason  string
	PerformedBy string
}

// MoveToStage is the sole writer of stage changes. The stage update and
// the transition audit row commit in one transaction, guarded by a
// current-stage precondition so two concurrent movers cannot both win.
func (e Engine) MoveToStage(ctx context.Context, opts MoveOptions) (domain.Contact, error) {
	if opts.ContactID == "" {
		return domain.Contact{}, ValidationError("contact_id is required")
	}
	if !domain.IsStage(opts.ToStage) {
		return domain.Contact{}, ValidationError("unknown stage " + opts.ToStage)
	}
	c, err := e.Repo.GetContact(ctx, opts.ContactID)
	if err != nil {
		return domain.Contact{}, err
	}
	if err := ensureStageTransition(c.Stage, opts.ToStage); err != nil {
		return domain.Contact{}, err
	}
	var lostReason *string
	if opts.ToStage == domain.StageLost {
		if opts.LostReason == "" {
			return domain.Contact{}, ErrMissingReason
		}
		lostReason = &opts.LostReason
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contact{}, err
	}
	defer tx.Rollback()
	moved, err := e.Repo.UpdateContactStage(ctx, tx, c.ID, c.Stage, opts.ToStage, lostReason)
	if err != nil {
		return domain.Contact{}, err
	}
	if !moved {
		return domain.Contact{}, ErrConcurrentModification
	}
	t := domain.Transition{
		ID:          uuid.New().String(),
		ContactID:   c.ID,
		FromStage:   c.Stage,
		ToStage:     opts.ToStage,
		LostReason:  lostReason,
		PerformedBy: opts.PerformedBy,
		PerformedAt: now,
	}
	if err := e.Repo.InsertTransition(ctx, tx, t); err != nil {
		return domain.Contact{}, err
	}
	if err := e.Events.Append(ctx, tx, "stage.moved", "contact", c.ID, opts.PerformedBy, events.EventPayload{
		"from": c.Stage,
		"to":   opts.ToStage,
	}); err != nil {
		return domain.Contact{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contact{}, err
	}
	if e.Config != nil && e.Config.Scoring.IsHotStage(opts.ToStage) {
		e.submitRecompute(c.ID)
	}
	return e.Repo.GetContact(ctx, c.ID)
}

// Timeline is a contact with its full interaction and stage history.
type Timeline struct {
	Contact      domain.Contact       `json:"contact"`
	Interactions []domain.Interaction `json:"interactions"`
	Transitions  []domain.Transition  `json:"transitions"`
}

func (e Engine) GetTimeline(ctx context.Context, contactID string) (Timeline, error) {
	c, err := e.Repo.GetContact(ctx, contactID)
	if err != nil {
		return Timeline{}, err
	}
	ins, err := e.Repo.ListInteractions(ctx, contactID)
	if err != nil {
		return Timeline{}, err
	}
	trs, err := e.Repo.ListTransitions(ctx, contactID)
	if err != nil {
		return Timeline{}, err
	}
	return Timeline{Contact: c, Interactions: ins, Transitions: trs}, nil
}

// TaskCreateOptions are parameters for creating a follow-up task.
type TaskCreateOptions struct {
	Title      string
	ContactID  string
	AssignedTo string
	Priority   string
	DueDate    time.Time
	ActorID    string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, ValidationError("title is required")
	}
	if opts.Priority == "" {
		opts.Priority = "normal"
	}
	if opts.AssignedTo == "" {
		opts.AssignedTo = "0" // unassigned
	}
	if opts.ContactID != "" {
		if _, err := e.Repo.GetContact(ctx, opts.ContactID); err != nil {
			return domain.Task{}, err
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:         uuid.New().String(),
		ContactID:  optionalString(opts.ContactID),
		AssignedTo: opts.AssignedTo,
		Title:      opts.Title,
		Priority:   opts.Priority,
		Status:     "pending",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if !opts.DueDate.IsZero() {
		due := opts.DueDate.UTC().Format(time.RFC3339)
		t.DueDate = &due
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", "task", t.ID, opts.ActorID, events.EventPayload{
		"title": t.Title,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) CompleteTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	done, err := e.Repo.CompleteTask(ctx, tx, taskID, now)
	if err != nil {
		return t, err
	}
	if !done {
		return t, ValidationError("task already done")
	}
	if err := e.Events.Append(ctx, tx, "task.done", "task", t.ID, actorID, nil); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return e.Repo.GetTask(ctx, taskID)
}

// IsRetryable reports whether the caller may retry the failed operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, repo.ErrStoreTimeout)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
