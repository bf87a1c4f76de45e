package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/ziswaf/internal/audit/domain"
	"github.com/smallbiznis/ziswaf/internal/events"
	obscontext "github.com/smallbiznis/ziswaf/internal/observability/context"
	"github.com/smallbiznis/ziswaf/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 250
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

// Publish writes the audit entry inside the writer's transaction, so a
// rolled back change leaves no trail. Updates that touch no value field
// are not recorded.
func (s *Service) Publish(ctx context.Context, tx *gorm.DB, evt events.Event) error {
	if !evt.ShouldDispatch() {
		return nil
	}
	if tx == nil {
		tx = s.db
	}

	actorType, actorID := resolveActor(ctx)
	payload := map[string]any{}
	var changed auditdomain.ChangedFields
	if len(evt.Changes) > 0 {
		changes := make([]map[string]string, 0, len(evt.Changes))
		for _, c := range evt.Changes {
			changes = append(changes, map[string]string{"field": c.Field, "old": c.Old, "new": c.New})
			changed = append(changed, c.Field)
		}
		payload["changes"] = changes
	}
	if evt.Previous != nil {
		payload["before"] = values(evt.Previous)
	}
	if evt.Current != nil {
		payload["after"] = values(evt.Current)
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	createdAt := evt.OccurredAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	entry := auditdomain.AuditLog{
		ID:            s.genID.Generate(),
		ActorType:     actorType,
		ActorID:       actorID,
		Action:        string(evt.Kind),
		RecordType:    string(evt.RecordType),
		RecordID:      evt.RecordID,
		UnitID:        unitOf(evt),
		Metadata:      datatypes.JSONMap(payload),
		ChangedFields: changed,
		CreatedAt:     createdAt,
	}

	if err := s.repo.Insert(ctx, tx, &entry); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("record_type", entry.RecordType),
			zap.String("action", entry.Action),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	filter := auditdomain.ListFilter{
		StartAt: req.StartAt,
		EndAt:   req.EndAt,
	}
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidTimeRange
	}

	if raw := strings.TrimSpace(req.RecordType); raw != "" {
		if !knownRecordType(raw) {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidRecordType
		}
		filter.RecordType = raw
	}
	if raw := strings.TrimSpace(req.Action); raw != "" {
		if !knownAction(raw) {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidAction
		}
		filter.Action = raw
	}
	if raw := strings.TrimSpace(req.RecordID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil || id == 0 {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidRecordID
		}
		filter.RecordID = id
	}
	if raw := strings.TrimSpace(req.UnitID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil || id == 0 {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidUnitID
		}
		filter.UnitID = id
	}

	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		filter.Cursor = &auditdomain.AuditCursor{
			ID:        id,
			CreatedAt: createdAt,
		}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	filter.Limit = pageSize

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *auditdomain.AuditLog) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}
	if pageInfo != nil && !pageInfo.HasMore {
		pageInfo.NextPageToken = ""
	}

	logs := make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		logs = append(logs, *item)
	}

	resp := auditdomain.ListAuditLogResponse{AuditLogs: logs}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func resolveActor(ctx context.Context) (string, *string) {
	actorType, actorID := obscontext.ActorFromContext(ctx)
	if actorType == "" {
		actorType = string(auditdomain.ActorTypeSystem)
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return actorType, nil
	}
	return actorType, &actorID
}

func unitOf(evt events.Event) *snowflake.ID {
	if evt.RecordType == events.RecordUnit {
		id := evt.RecordID
		return &id
	}
	for _, snap := range []*events.Snapshot{evt.Current, evt.Previous} {
		if snap != nil && snap.UnitID != 0 {
			id := snap.UnitID
			return &id
		}
	}
	return nil
}

func values(snap *events.Snapshot) map[string]string {
	out := make(map[string]string, len(snap.Values)+2)
	for k, v := range snap.Values {
		out[k] = v
	}
	if snap.UnitID != 0 {
		out[events.FieldUnitID] = snap.UnitID.String()
	}
	if !snap.Date.IsZero() {
		out[events.FieldDate] = snap.Date.UTC().Format("2006-01-02")
	}
	return out
}

func knownRecordType(raw string) bool {
	switch events.RecordType(raw) {
	case events.RecordFundTransaction, events.RecordDistribution, events.RecordDeposit,
		events.RecordAllocationRule, events.RecordUnit:
		return true
	}
	return false
}

func knownAction(raw string) bool {
	switch events.Kind(raw) {
	case events.KindCreated, events.KindUpdated, events.KindDeleted, events.KindRestored, events.KindForceDeleted:
		return true
	}
	return false
}
