package app

import (
	"context"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"itinera/api/internal/errs"
	"itinera/api/internal/export"
	"itinera/api/internal/metrics"
	"itinera/api/internal/notify"
	"itinera/api/internal/planner"
	"itinera/api/internal/presence"
	"itinera/api/internal/rbac"
	"itinera/api/internal/search"
	"itinera/api/internal/store"
	"itinera/api/internal/util"
)

// Caller is the verified identity behind a request. SocketID is the
// caller's own websocket session, when the client sent one.
type Caller struct {
	UserID      string
	DisplayName string
	AvatarURL   string
	SocketID    string
}

func (c Caller) Anonymous() bool {
	return c.UserID == ""
}

func (c Caller) origin() presence.Origin {
	return presence.Origin{SocketID: c.SocketID, UserID: c.UserID}
}

// Presence is the part of the hub the service signals after a commit.
type Presence interface {
	NotifyMutated(templateID string, origin presence.Origin)
	Kick(templateID, userID string)
}

type Notifier interface {
	Notify(e notify.Event)
}

type Options struct {
	Store    *store.SQLStore
	Engine   *planner.Engine
	Presence Presence
	Notifier Notifier
	Search   *search.Service
	Export   *export.Service
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
	Now      func() time.Time
}

type Service struct {
	store    *store.SQLStore
	engine   *planner.Engine
	gate     *rbac.Gate
	presence Presence
	notifier Notifier
	search   *search.Service
	export   *export.Service
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
	profiles *cache.Cache
}

func New(opts Options) *Service {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Engine == nil {
		opts.Engine = planner.NewEngine(opts.Store, planner.Options{Logger: opts.Logger, Now: opts.Now})
	}
	if opts.Search == nil {
		opts.Search = search.NewService(nil, opts.Store, opts.Logger)
	}
	if opts.Export == nil {
		opts.Export = export.NewService(opts.Store, export.Options{})
	}
	return &Service{
		store:    opts.Store,
		engine:   opts.Engine,
		gate:     rbac.NewGate(opts.Store),
		presence: opts.Presence,
		notifier: opts.Notifier,
		search:   opts.Search,
		export:   opts.Export,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With().Str("component", "service").Logger(),
		now:      opts.Now,
		profiles: cache.New(10*time.Minute, 20*time.Minute),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// RememberCaller keeps the users table in step with identity claims. Profiles
// seen recently are not written again.
func (s *Service) RememberCaller(ctx context.Context, caller Caller) {
	if caller.Anonymous() {
		return
	}
	profile := caller.DisplayName + "\x00" + caller.AvatarURL
	if cached, ok := s.profiles.Get(caller.UserID); ok && cached.(string) == profile {
		return
	}
	user := store.User{ID: caller.UserID, DisplayName: caller.DisplayName, AvatarURL: caller.AvatarURL}
	if err := s.store.UpsertUser(ctx, user, s.now()); err != nil {
		s.metrics.SideEffectFailed("profile")
		s.logger.Warn().Err(err).Str("user_id", caller.UserID).Msg("upsert user profile")
		return
	}
	s.profiles.SetDefault(caller.UserID, profile)
}

// AuthorizeJoin lets editors join a template's presence channel.
func (s *Service) AuthorizeJoin(ctx context.Context, templateID, userID string) error {
	if err := requireID("templateUuid", templateID); err != nil {
		return err
	}
	_, _, err := s.gate.Authorize(ctx, templateID, userID, rbac.ActionEdit)
	return err
}

// TemplateView is a template tree with the caller's role on it.
type TemplateView struct {
	store.TemplateTree
	Role rbac.Role
}

func (s *Service) CreateTemplate(ctx context.Context, caller Caller, title, privacy string) (store.Template, store.Board, error) {
	if caller.Anonymous() {
		return store.Template{}, store.Board{}, errs.Forbidden("sign in to create a trip")
	}
	tpl, board, err := s.engine.CreateTemplate(ctx, caller.UserID, strings.TrimSpace(title), store.Privacy(strings.ToLower(strings.TrimSpace(privacy))))
	s.observe("create_template", err)
	if err != nil {
		return store.Template{}, store.Board{}, err
	}
	s.search.SyncTemplate(tpl)
	return tpl, board, nil
}

func (s *Service) GetTemplate(ctx context.Context, caller Caller, templateID string) (TemplateView, error) {
	if err := requireID("templateUuid", templateID); err != nil {
		return TemplateView{}, err
	}
	_, role, err := s.gate.Authorize(ctx, templateID, caller.UserID, rbac.ActionRead)
	if err != nil {
		return TemplateView{}, err
	}
	tree, err := s.store.LoadTemplateTree(ctx, templateID)
	if err != nil {
		return TemplateView{}, err
	}
	return TemplateView{TemplateTree: tree, Role: role}, nil
}

func (s *Service) ListTemplates(ctx context.Context, caller Caller) ([]store.Template, error) {
	if caller.Anonymous() {
		return []store.Template{}, nil
	}
	return s.store.ListTemplatesForUser(ctx, caller.UserID)
}

// UpdateTemplateInput leaves nil fields unchanged.
type UpdateTemplateInput struct {
	Title   *string
	Privacy *string
}

func (s *Service) UpdateTemplate(ctx context.Context, caller Caller, templateID string, input UpdateTemplateInput) (store.Template, error) {
	if err := requireID("templateUuid", templateID); err != nil {
		return store.Template{}, err
	}
	tpl, _, err := s.gate.Authorize(ctx, templateID, caller.UserID, rbac.ActionManage)
	if err != nil {
		return store.Template{}, err
	}

	if input.Title != nil {
		tpl.Title = strings.TrimSpace(*input.Title)
		if tpl.Title == "" {
			return store.Template{}, errs.Validation("title must not be empty")
		}
	}
	if input.Privacy != nil {
		tpl.Privacy = store.Privacy(strings.ToLower(strings.TrimSpace(*input.Privacy)))
		if !tpl.Privacy.Valid() {
			return store.Template{}, errs.Validation("unknown privacy %q", *input.Privacy)
		}
	}

	tpl.UpdatedAt = s.now()
	err = s.store.UpdateTemplate(ctx, tpl.ID, tpl.Title, tpl.Privacy, tpl.UpdatedAt)
	s.observe("update_template", err)
	if err != nil {
		return store.Template{}, errs.Storage("update template", err)
	}
	s.search.SyncTemplate(tpl)
	s.mutated(tpl.ID, caller)
	return tpl, nil
}

func (s *Service) DeleteTemplate(ctx context.Context, caller Caller, templateID string) error {
	if err := requireID("templateUuid", templateID); err != nil {
		return err
	}
	if _, _, err := s.gate.Authorize(ctx, templateID, caller.UserID, rbac.ActionManage); err != nil {
		return err
	}
	err := s.store.DeleteTemplate(ctx, templateID)
	s.observe("delete_template", err)
	if err != nil {
		return errs.Storage("delete template", err)
	}
	s.search.RemoveTemplate(templateID)
	s.mutated(templateID, caller)
	return nil
}

func (s *Service) ListCollaborators(ctx context.Context, caller Caller, templateID string) ([]store.Collaborator, error) {
	if err := requireID("templateUuid", templateID); err != nil {
		return nil, err
	}
	if _, _, err := s.gate.Authorize(ctx, templateID, caller.UserID, rbac.ActionEdit); err != nil {
		return nil, err
	}
	return s.store.ListCollaborators(ctx, templateID)
}

func (s *Service) AddCollaborator(ctx context.Context, caller Caller, templateID, userID string) error {
	if err := requireID("templateUuid", templateID); err != nil {
		return err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errs.Validation("userId is required")
	}
	tpl, _, err := s.gate.Authorize(ctx, templateID, caller.UserID, rbac.ActionManage)
	if err != nil {
		return err
	}
	if userID == tpl.OwnerUserID {
		return errs.Validation("the owner is already allowed to edit")
	}

	err = s.store.AddCollaborator(ctx, templateID, userID, s.now())
	s.observe("add_collaborator", err)
	if err != nil {
		return errs.Storage("add collaborator", err)
	}
	s.notify(notify.Event{
		RecipientUserID: userID,
		ActorUserID:     caller.UserID,
		TemplateID:      templateID,
		Kind:            notify.KindCollaboratorAdded,
		Message:         caller.DisplayName + " invited you to edit " + tpl.Title,
	})
	return nil
}

func (s *Service) RemoveCollaborator(ctx context.Context, caller Caller, templateID, userID string) error {
	if err := requireID("templateUuid", templateID); err != nil {
		return err
	}
	tpl, _, err := s.gate.Authorize(ctx, templateID, caller.UserID, rbac.ActionManage)
	if err != nil {
		return err
	}
	err = s.store.RemoveCollaborator(ctx, templateID, userID)
	s.observe("remove_collaborator", err)
	if err != nil {
		return errs.Storage("remove collaborator", err)
	}
	if s.presence != nil {
		s.presence.Kick(templateID, userID)
	}
	s.notify(notify.Event{
		RecipientUserID: userID,
		ActorUserID:     caller.UserID,
		Kind:            notify.KindCollaboratorRemoved,
		Message:         "You can no longer edit " + tpl.Title,
	})
	return nil
}

func (s *Service) InsertBoard(ctx context.Context, caller Caller, templateID string, dayNumber *int) (store.Board, error) {
	if err := requireID("templateUuid", templateID); err != nil {
		return store.Board{}, err
	}
	pos := planner.End
	if dayNumber != nil {
		if *dayNumber < 1 {
			return store.Board{}, errs.Validation("dayNumber must be at least 1, got %d", *dayNumber)
		}
		pos = planner.At(*dayNumber)
	}
	if _, _, err := s.gate.Authorize(ctx, templateID, caller.UserID, rbac.ActionEdit); err != nil {
		return store.Board{}, err
	}
	board, err := s.engine.InsertBoard(ctx, templateID, pos)
	s.observe("insert_board", err)
	if err != nil {
		return store.Board{}, err
	}
	s.mutated(templateID, caller)
	return board, nil
}

func (s *Service) MoveBoard(ctx context.Context, caller Caller, boardID string, dayNumber int) (store.Board, error) {
	if err := requireID("boardUuid", boardID); err != nil {
		return store.Board{}, err
	}
	if dayNumber < 1 {
		return store.Board{}, errs.Validation("dayNumber must be at least 1, got %d", dayNumber)
	}
	board, err := s.authorizeBoard(ctx, caller, boardID, rbac.ActionEdit)
	if err != nil {
		return store.Board{}, err
	}
	moved, err := s.engine.MoveBoard(ctx, boardID, dayNumber)
	s.observe("move_board", err)
	if err != nil {
		return store.Board{}, err
	}
	s.mutated(board.TemplateID, caller)
	return moved, nil
}

func (s *Service) DeleteBoard(ctx context.Context, caller Caller, boardID string) error {
	if err := requireID("boardUuid", boardID); err != nil {
		return err
	}
	board, err := s.authorizeBoard(ctx, caller, boardID, rbac.ActionEdit)
	if err != nil {
		return err
	}
	_, err = s.engine.DeleteBoard(ctx, boardID)
	s.observe("delete_board", err)
	if err != nil {
		return err
	}
	s.mutated(board.TemplateID, caller)
	return nil
}

func (s *Service) SortBoard(ctx context.Context, caller Caller, boardID string) ([]store.Card, error) {
	if err := requireID("boardUuid", boardID); err != nil {
		return nil, err
	}
	board, err := s.authorizeBoard(ctx, caller, boardID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	cards, err := s.engine.SortCards(ctx, boardID)
	s.observe("sort_board", err)
	if err != nil {
		return nil, err
	}
	s.mutated(board.TemplateID, caller)
	return cards, nil
}

// CopyBoard appends a copy of a board to a template the caller can edit.
func (s *Service) CopyBoard(ctx context.Context, caller Caller, boardID, targetTemplateID string) (store.Board, error) {
	if err := requireID("boardUuid", boardID); err != nil {
		return store.Board{}, err
	}
	if err := requireID("targetTemplateUuid", targetTemplateID); err != nil {
		return store.Board{}, err
	}
	source, err := s.authorizeBoard(ctx, caller, boardID, rbac.ActionCopy)
	if err != nil {
		return store.Board{}, err
	}
	if _, _, err := s.gate.Authorize(ctx, targetTemplateID, caller.UserID, rbac.ActionEdit); err != nil {
		return store.Board{}, err
	}
	board, err := s.engine.CopyBoard(ctx, caller.UserID, boardID, targetTemplateID)
	s.observe("copy_board", err)
	if err != nil {
		return store.Board{}, err
	}
	s.copied(ctx, caller, source.TemplateID)
	s.mutated(targetTemplateID, caller)
	return board, nil
}

type CardInput struct {
	Content    string
	StartTime  string
	EndTime    string
	Locked     bool
	OrderIndex *int
	Location   *store.Location
}

func (s *Service) InsertCard(ctx context.Context, caller Caller, boardID string, input CardInput) (store.Card, error) {
	if err := requireID("boardUuid", boardID); err != nil {
		return store.Card{}, err
	}
	if err := planner.ValidateTimes(input.StartTime, input.EndTime); err != nil {
		return store.Card{}, err
	}
	board, err := s.authorizeBoard(ctx, caller, boardID, rbac.ActionEdit)
	if err != nil {
		return store.Card{}, err
	}
	pos := planner.End
	if input.OrderIndex != nil {
		pos = planner.At(*input.OrderIndex)
	}
	card, err := s.engine.InsertCard(ctx, boardID, pos, planner.CardFields{
		Content:   input.Content,
		StartTime: input.StartTime,
		EndTime:   input.EndTime,
		Locked:    input.Locked,
		Location:  input.Location,
	})
	s.observe("insert_card", err)
	if err != nil {
		return store.Card{}, err
	}
	s.mutated(board.TemplateID, caller)
	return card, nil
}

func (s *Service) UpdateCard(ctx context.Context, caller Caller, cardID string, patch planner.CardPatch) (store.Card, error) {
	if err := requireID("cardUuid", cardID); err != nil {
		return store.Card{}, err
	}
	board, err := s.authorizeCard(ctx, caller, cardID, rbac.ActionEdit)
	if err != nil {
		return store.Card{}, err
	}
	card, err := s.engine.UpdateCard(ctx, cardID, patch)
	s.observe("update_card", err)
	if err != nil {
		return store.Card{}, err
	}
	s.mutated(board.TemplateID, caller)
	return card, nil
}

// MoveCard moves a card within its board or onto another board; both ends
// must be editable by the caller.
func (s *Service) MoveCard(ctx context.Context, caller Caller, cardID, boardID string, orderIndex int) (store.Card, error) {
	if err := requireID("cardUuid", cardID); err != nil {
		return store.Card{}, err
	}
	if err := requireID("boardUuid", boardID); err != nil {
		return store.Card{}, err
	}
	source, err := s.authorizeCard(ctx, caller, cardID, rbac.ActionEdit)
	if err != nil {
		return store.Card{}, err
	}
	dest := source
	if boardID != source.ID {
		if dest, err = s.authorizeBoard(ctx, caller, boardID, rbac.ActionEdit); err != nil {
			return store.Card{}, err
		}
	}
	card, err := s.engine.MoveCard(ctx, cardID, boardID, orderIndex)
	s.observe("move_card", err)
	if err != nil {
		return store.Card{}, err
	}
	s.mutated(source.TemplateID, caller)
	if dest.TemplateID != source.TemplateID {
		s.mutated(dest.TemplateID, caller)
	}
	return card, nil
}

func (s *Service) DeleteCard(ctx context.Context, caller Caller, cardID string) error {
	if err := requireID("cardUuid", cardID); err != nil {
		return err
	}
	board, err := s.authorizeCard(ctx, caller, cardID, rbac.ActionEdit)
	if err != nil {
		return err
	}
	_, err = s.engine.DeleteCard(ctx, cardID)
	s.observe("delete_card", err)
	if err != nil {
		return err
	}
	s.mutated(board.TemplateID, caller)
	return nil
}

// CopyCard appends a copy of a card to a board the caller can edit.
func (s *Service) CopyCard(ctx context.Context, caller Caller, cardID, boardID string) (store.Card, error) {
	if err := requireID("cardUuid", cardID); err != nil {
		return store.Card{}, err
	}
	if err := requireID("boardUuid", boardID); err != nil {
		return store.Card{}, err
	}
	source, err := s.authorizeCard(ctx, caller, cardID, rbac.ActionCopy)
	if err != nil {
		return store.Card{}, err
	}
	dest, err := s.authorizeBoard(ctx, caller, boardID, rbac.ActionEdit)
	if err != nil {
		return store.Card{}, err
	}
	card, err := s.engine.CopyCard(ctx, caller.UserID, cardID, boardID)
	s.observe("copy_card", err)
	if err != nil {
		return store.Card{}, err
	}
	s.copied(ctx, caller, source.TemplateID)
	s.mutated(dest.TemplateID, caller)
	return card, nil
}

// CopyTemplate gives the caller a private copy of a template.
func (s *Service) CopyTemplate(ctx context.Context, caller Caller, templateID, title string) (store.Template, error) {
	if err := requireID("templateUuid", templateID); err != nil {
		return store.Template{}, err
	}
	if caller.Anonymous() {
		return store.Template{}, errs.Forbidden("sign in to copy a trip")
	}
	if _, _, err := s.gate.Authorize(ctx, templateID, caller.UserID, rbac.ActionCopy); err != nil {
		return store.Template{}, err
	}
	tpl, err := s.engine.CopyTemplate(ctx, caller.UserID, templateID, title)
	s.observe("copy_template", err)
	if err != nil {
		return store.Template{}, err
	}
	s.copied(ctx, caller, templateID)
	return tpl, nil
}

func (s *Service) Search(ctx context.Context, text string, limit int) search.Response {
	return s.search.Search(ctx, search.Query{Text: text, Limit: limit})
}

func (s *Service) Export(ctx context.Context, caller Caller, templateID, format string) (*export.Result, error) {
	if err := requireID("templateUuid", templateID); err != nil {
		return nil, err
	}
	parsed, err := export.ParseFormat(format)
	if err != nil {
		return nil, errs.Validation("format must be html or pdf")
	}
	if _, _, err := s.gate.Authorize(ctx, templateID, caller.UserID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.export.Export(ctx, export.Request{TemplateID: templateID, Format: parsed})
}

func (s *Service) Notifications(ctx context.Context, caller Caller, limit int) ([]store.Notification, error) {
	return s.store.ListNotifications(ctx, caller.UserID, limit)
}

func (s *Service) MarkNotificationRead(ctx context.Context, caller Caller, notificationID string) error {
	if err := requireID("notificationId", notificationID); err != nil {
		return err
	}
	return s.store.MarkNotificationRead(ctx, notificationID, caller.UserID, s.now())
}

func (s *Service) authorizeBoard(ctx context.Context, caller Caller, boardID string, action rbac.Action) (store.Board, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return store.Board{}, errs.Storage("load board", err)
	}
	if _, _, err := s.gate.Authorize(ctx, board.TemplateID, caller.UserID, action); err != nil {
		return store.Board{}, err
	}
	return board, nil
}

// authorizeCard returns the card's board.
func (s *Service) authorizeCard(ctx context.Context, caller Caller, cardID string, action rbac.Action) (store.Board, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return store.Board{}, errs.Storage("load card", err)
	}
	return s.authorizeBoard(ctx, caller, card.BoardID, action)
}

// copied tells the owner of a copied template about the copy and refreshes
// its search entry with the new shared count.
func (s *Service) copied(ctx context.Context, caller Caller, sourceTemplateID string) {
	tpl, err := s.store.GetTemplate(ctx, sourceTemplateID)
	if err != nil {
		s.logger.Warn().Err(err).Str("template_id", sourceTemplateID).Msg("reload copied template")
		return
	}
	if tpl.OwnerUserID == caller.UserID {
		return
	}
	s.search.SyncTemplate(tpl)
	s.notify(notify.Event{
		RecipientUserID: tpl.OwnerUserID,
		ActorUserID:     caller.UserID,
		TemplateID:      tpl.ID,
		Kind:            notify.KindTemplateCopied,
		Message:         caller.DisplayName + " copied from " + tpl.Title,
	})
}

func (s *Service) mutated(templateID string, caller Caller) {
	if s.presence != nil {
		s.presence.NotifyMutated(templateID, caller.origin())
	}
}

func (s *Service) notify(e notify.Event) {
	if s.notifier != nil {
		s.notifier.Notify(e)
	}
}

func (s *Service) observe(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(errs.KindOf(err))
	}
	s.metrics.Operation(operation, outcome)
}

func requireID(field, value string) error {
	if !util.ValidID(value) {
		return errs.Validation("%s must be a uuid", field)
	}
	return nil
}
