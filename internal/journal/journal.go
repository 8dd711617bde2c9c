package journal

import (
	"fmt"
	"net/url"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"main/internal/schema"
)

const (
	defaultHost    = "localhost"
	defaultPort    = 5432
	defaultSSLMode = "disable"
)

// Option defines connection options for the PostgreSQL journal.
type Option struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	Params     map[string]string
	ConnString string
	Config     *gorm.Config
}

// Journal persists order transitions and executions for audit and
// replay. All writes are append-only; the adapter never reads the
// journal on the hot path, so a nil *Journal is a valid no-op.
type Journal struct {
	db *gorm.DB
}

// OrderRow is one durable order transition.
type OrderRow struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement"`
	OrderID         string `gorm:"index"`
	ClientRequestID string
	Account         string `gorm:"index"`
	Symbol          string
	Side            string
	Type            string
	Status          string
	Quantity        string
	FilledQuantity  string
	LimitPrice      string
	StopPrice       string
	Version         uint64
	TsMicros        int64
}

// TradeRow is one durable execution record.
type TradeRow struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	TradeID  string `gorm:"uniqueIndex"`
	OrderID  string `gorm:"index"`
	Account  string `gorm:"index"`
	Symbol   string
	Side     string
	Quantity string
	Price    string
	Closing  bool
	TsMicros int64
}

// Open connects to PostgreSQL and migrates the journal tables.
func Open(option Option) (*Journal, error) {
	connString, err := option.dsn()
	if err != nil {
		return nil, err
	}

	config := option.Config
	if config == nil {
		config = &gorm.Config{}
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&OrderRow{}, &TradeRow{}); err != nil {
		return nil, err
	}

	return &Journal{db: db}, nil
}

// RecordOrder appends an order transition.
func (j *Journal) RecordOrder(view schema.OrderView, tsMicros int64) error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Create(&OrderRow{
		OrderID:         view.OrderID,
		ClientRequestID: view.ClientRequestID,
		Account:         view.Account,
		Symbol:          view.Symbol,
		Side:            view.Side.String(),
		Type:            view.Type.String(),
		Status:          view.Status.String(),
		Quantity:        view.Quantity.String(),
		FilledQuantity:  view.FilledQuantity.String(),
		LimitPrice:      view.LimitPrice.String(),
		StopPrice:       view.StopPrice.String(),
		Version:         view.Version,
		TsMicros:        tsMicros,
	}).Error
}

// RecordTrade appends an execution record.
func (j *Journal) RecordTrade(view schema.TradeView, closing bool) error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Create(&TradeRow{
		TradeID:  view.TradeID,
		OrderID:  view.OrderID,
		Account:  view.Account,
		Symbol:   view.Symbol,
		Side:     view.Side.String(),
		Quantity: view.Quantity.String(),
		Price:    view.Price.String(),
		Closing:  closing,
		TsMicros: view.TsMicros,
	}).Error
}

// OrderHistory returns the transitions recorded for an order, oldest
// first.
func (j *Journal) OrderHistory(orderID string) ([]OrderRow, error) {
	if j == nil || j.db == nil {
		return nil, nil
	}
	var rows []OrderRow
	err := j.db.Where("order_id = ?", orderID).Order("id asc").Find(&rows).Error
	return rows, err
}

// Close closes the underlying connection pool.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (opt Option) dsn() (string, error) {
	if opt.ConnString != "" {
		return opt.ConnString, nil
	}

	host := opt.Host
	if host == "" {
		host = defaultHost
	}

	port := opt.Port
	if port == 0 {
		port = defaultPort
	}

	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}

	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}

	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	if len(query) != 0 {
		u.RawQuery = query.Encode()
	}

	return u.String(), nil
}
