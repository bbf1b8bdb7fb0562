package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/d60-Lab/feedsync/internal/model"
	"github.com/d60-Lab/feedsync/internal/remote"
)

// ErrInvalidRow 行无法映射到表结构（未知列、类型不符）。
var ErrInvalidRow = errors.New("invalid row")

// Subscriber delivers committed changes; the change feed broker implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, table remote.Table, filter remote.Filter) (<-chan remote.ChangeEvent, error)
}

type tableModel struct {
	newOne  func() any
	newMany func() any
	columns map[string]reflect.Kind
}

func modelOf[T any]() tableModel {
	return tableModel{
		newOne:  func() any { return new(T) },
		newMany: func() any { return new([]T) },
		columns: jsonColumns(reflect.TypeOf((*T)(nil)).Elem()),
	}
}

func jsonColumns(t reflect.Type) map[string]reflect.Kind {
	cols := make(map[string]reflect.Kind, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name != "" && name != "-" {
			cols[name] = f.Type.Kind()
		}
	}
	return cols
}

var tableModels = map[remote.Table]tableModel{
	remote.TableProfiles:       modelOf[model.Profile](),
	remote.TablePosts:          modelOf[model.Post](),
	remote.TableComments:       modelOf[model.Comment](),
	remote.TableLikes:          modelOf[model.Like](),
	remote.TableFriendRequests: modelOf[model.FriendRequest](),
	remote.TableNotifications:  modelOf[model.Notification](),
	remote.TableMessages:       modelOf[model.Message](),
	remote.TableStories:        modelOf[model.Story](),
}

// Migrate creates every table the store and the relay use.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Profile{}, &model.Post{}, &model.Comment{}, &model.Like{},
		&model.FriendRequest{}, &model.Notification{}, &model.Message{}, &model.Story{},
		&model.Follow{}, &model.Fan{}, &model.Outbox{},
	)
}

// TableStore 远端权威存储：每次写入在同一事务中落业务行与 outbox 变更记录，
// 订阅由 Subscriber（变更广播）提供。
type TableStore struct {
	db  *gorm.DB
	sub Subscriber
}

var _ remote.Store = (*TableStore)(nil)

func NewTableStore(db *gorm.DB, sub Subscriber) *TableStore {
	return &TableStore{db: db, sub: sub}
}

func lookup(table remote.Table) (tableModel, error) {
	m, ok := tableModels[table]
	if !ok {
		return tableModel{}, fmt.Errorf("%w: %q", remote.ErrUnknownTable, table)
	}
	return m, nil
}

func decodeRow(row remote.Row, dst any) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRow, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRow, err)
	}
	return nil
}

func encodeRow(src any) (remote.Row, error) {
	raw, err := json.Marshal(src)
	if err != nil {
		return nil, err
	}
	var row remote.Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, err
	}
	return row, nil
}

func checkColumns(m tableModel, row remote.Row) error {
	for col := range row {
		if _, ok := m.columns[col]; !ok {
			return fmt.Errorf("%w: unknown column %q", ErrInvalidRow, col)
		}
	}
	return nil
}

func (s *TableStore) Query(ctx context.Context, table remote.Table, filter remote.Filter) ([]remote.Row, error) {
	m, err := lookup(table)
	if err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Model(m.newOne())
	for col, v := range filter {
		kind, ok := m.columns[col]
		if !ok {
			return nil, fmt.Errorf("%w: unknown column %q", ErrInvalidRow, col)
		}
		if str, isStr := v.(string); isStr && kind == reflect.Bool {
			b, err := strconv.ParseBool(str)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRow, col, err)
			}
			v = b
		}
		q = q.Where(map[string]any{col: v})
	}
	out := m.newMany()
	if err := q.Order("created_at, id").Find(out).Error; err != nil {
		return nil, err
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	var rows []remote.Row
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *TableStore) Insert(ctx context.Context, table remote.Table, row remote.Row) (remote.Row, error) {
	m, err := lookup(table)
	if err != nil {
		return nil, err
	}
	if err := checkColumns(m, row); err != nil {
		return nil, err
	}
	row = row.Clone()
	if row.ID() == "" {
		row["id"] = uuid.New().String()
	}
	dst := m.newOne()
	if err := decodeRow(row, dst); err != nil {
		return nil, err
	}

	var committed remote.Row
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cnt int64
		if err := tx.Model(m.newOne()).Where("id = ?", row.ID()).Count(&cnt).Error; err != nil {
			return err
		}
		if cnt > 0 {
			return fmt.Errorf("%s %s: %w", table, row.ID(), remote.ErrConflict)
		}
		if table == remote.TableLikes {
			if err := tx.Model(&model.Like{}).
				Where("post_id = ? AND user_id = ?", row.String("post_id"), row.String("user_id")).
				Count(&cnt).Error; err != nil {
				return err
			}
			if cnt > 0 {
				return fmt.Errorf("like of %s by %s: %w", row.String("post_id"), row.String("user_id"), remote.ErrConflict)
			}
		}
		if err := tx.Create(dst).Error; err != nil {
			return err
		}
		if err := syncEdges(ctx, tx, dst); err != nil {
			return err
		}
		if committed, err = encodeRow(dst); err != nil {
			return err
		}
		return record(tx, table, remote.OpInsert, committed)
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

func (s *TableStore) Update(ctx context.Context, table remote.Table, id string, patch remote.Row) error {
	m, err := lookup(table)
	if err != nil {
		return err
	}
	if err := checkColumns(m, patch); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur := m.newOne()
		if err := tx.Where("id = ?", id).First(cur).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%s %s: %w", table, id, remote.ErrNotFound)
			}
			return err
		}
		row, err := encodeRow(cur)
		if err != nil {
			return err
		}
		for k, v := range patch {
			if k != "id" {
				row[k] = v
			}
		}
		next := m.newOne()
		if err := decodeRow(row, next); err != nil {
			return err
		}
		if err := tx.Save(next).Error; err != nil {
			return err
		}
		if err := syncEdges(ctx, tx, next); err != nil {
			return err
		}
		committed, err := encodeRow(next)
		if err != nil {
			return err
		}
		return record(tx, table, remote.OpUpdate, committed)
	})
}

func (s *TableStore) Delete(ctx context.Context, table remote.Table, id string) error {
	m, err := lookup(table)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur := m.newOne()
		if err := tx.Where("id = ?", id).First(cur).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if err := tx.Delete(cur).Error; err != nil {
			return err
		}
		if p, ok := cur.(*model.Profile); ok {
			if err := syncEdges(ctx, tx, &model.Profile{ID: p.ID}); err != nil {
				return err
			}
		}
		row, err := encodeRow(cur)
		if err != nil {
			return err
		}
		return record(tx, table, remote.OpDelete, row)
	})
}

func (s *TableStore) Subscribe(ctx context.Context, table remote.Table, filter remote.Filter) (<-chan remote.ChangeEvent, error) {
	if _, err := lookup(table); err != nil {
		return nil, err
	}
	if s.sub == nil {
		return nil, errors.New("table store has no change feed")
	}
	return s.sub.Subscribe(ctx, table, filter)
}

// syncEdges mirrors a profile's follow arrays into the follows and fans tables.
func syncEdges(ctx context.Context, tx *gorm.DB, v any) error {
	p, ok := v.(*model.Profile)
	if !ok {
		return nil
	}
	if err := NewFollowRepository(tx).Replace(ctx, p.ID, p.Following); err != nil {
		return err
	}
	return NewFanRepository(tx).Replace(ctx, p.ID, p.Followers)
}

func record(tx *gorm.DB, table remote.Table, op remote.Operation, row remote.Row) error {
	payload, err := json.Marshal(remote.ChangeEvent{Table: table, Op: op, Row: row})
	if err != nil {
		return err
	}
	return tx.Create(&model.Outbox{
		ID:        ulid.Make().String(),
		Table:     string(table),
		Op:        string(op),
		Payload:   string(payload),
		Status:    model.OutboxPending,
		CreatedAt: time.Now(),
	}).Error
}
