// Package cloud is the PeerStore backed by the remote peers table.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"peer-sync/pkg/model"
	"peer-sync/pkg/store"
)

// peerRow maps the peers table. updated_at is written verbatim from the record,
// never stamped by the ORM.
type peerRow struct {
	ID                  string  `gorm:"primaryKey;size:64"`
	Name                string  `gorm:"size:255"`
	PublicKey           string  `gorm:"size:64"`
	PrivateKey          *string `gorm:"size:64"`
	AllowedIPs          string  `gorm:"column:allowed_ips;size:1024"`
	Endpoint            string  `gorm:"size:255"`
	DNS                 string  `gorm:"column:dns;size:255"`
	PersistentKeepalive int
	Status              string     `gorm:"size:32"`
	LastHandshake       *time.Time `gorm:"precision:6"`
	TransferRx          int64
	TransferTx          int64
	UpdatedAt           time.Time `gorm:"autoUpdateTime:false;precision:6;not null"`
}

func (peerRow) TableName() string { return "peers" }

// Store is a gorm-backed cloud PeerStore.
type Store struct {
	db *gorm.DB
}

// New migrates the peers table and returns the store.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&peerRow{}); err != nil {
		return nil, fmt.Errorf("migrate peers: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) FetchAll(ctx context.Context) ([]model.Peer, error) {
	var rows []peerRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query peers: %w", err)
	}
	out := make([]model.Peer, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toPeer())
	}
	return out, nil
}

func (s *Store) Create(ctx context.Context, p model.Peer) error {
	row := fromPeer(p)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if err.Error != nil {
		return fmt.Errorf("insert peer %s: %w", p.ID, err.Error)
	}
	if err.RowsAffected == 0 {
		return fmt.Errorf("insert peer %s: %w", p.ID, store.ErrExists)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, p model.Peer) error {
	row := fromPeer(p)
	tx := s.db.WithContext(ctx).Model(&peerRow{}).Where("id = ?", p.ID).Select("*").Omit("id").Updates(&row)
	if tx.Error != nil {
		return fmt.Errorf("update peer %s: %w", p.ID, tx.Error)
	}
	if tx.RowsAffected > 0 {
		return nil
	}
	// MySQL reports 0 affected rows when nothing changed, so confirm the row exists.
	var n int64
	if err := s.db.WithContext(ctx).Model(&peerRow{}).Where("id = ?", p.ID).Count(&n).Error; err != nil {
		return fmt.Errorf("update peer %s: %w", p.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update peer %s: %w", p.ID, store.ErrNotFound)
	}
	return nil
}

// Get loads one peer by id.
func (s *Store) Get(ctx context.Context, id string) (model.Peer, bool, error) {
	var row peerRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Peer{}, false, nil
	}
	if err != nil {
		return model.Peer{}, false, err
	}
	return row.toPeer(), true, nil
}

// normalize keeps timestamps at the column precision so a value read back equals what was written.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(model.VersionPrecision)
}

func fromPeer(p model.Peer) peerRow {
	r := peerRow{
		ID:                  p.ID,
		Name:                p.Name,
		PublicKey:           p.PublicKey,
		PrivateKey:          p.PrivateKey,
		AllowedIPs:          p.AllowedIPs,
		Endpoint:            p.Endpoint,
		DNS:                 p.DNS,
		PersistentKeepalive: p.PersistentKeepalive,
		Status:              p.Status,
		TransferRx:          p.TransferRx,
		TransferTx:          p.TransferTx,
		UpdatedAt:           normalize(p.UpdatedAt),
	}
	if p.LastHandshake != nil {
		hs := normalize(*p.LastHandshake)
		r.LastHandshake = &hs
	}
	return r
}

func (r peerRow) toPeer() model.Peer {
	p := model.Peer{
		ID:                  r.ID,
		Name:                r.Name,
		PublicKey:           r.PublicKey,
		PrivateKey:          r.PrivateKey,
		AllowedIPs:          r.AllowedIPs,
		Endpoint:            r.Endpoint,
		DNS:                 r.DNS,
		PersistentKeepalive: r.PersistentKeepalive,
		Status:              r.Status,
		TransferRx:          r.TransferRx,
		TransferTx:          r.TransferTx,
		UpdatedAt:           r.UpdatedAt.UTC(),
	}
	if r.LastHandshake != nil {
		hs := r.LastHandshake.UTC()
		p.LastHandshake = &hs
	}
	return p
}
