package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Store struct {
	DB *gorm.DB
}

func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := Migrate(gdb); err != nil {
		return nil, err
	}
	return &Store{DB: gdb}, nil
}

func Migrate(gdb *gorm.DB) error {
	err := gdb.AutoMigrate(
		&AgentModel{},
		&AgentMetadataModel{},
		&ValidationRequestModel{},
		&ValidationResponseModel{},
		&FeedbackModel{},
		&FeedbackRevocationModel{},
		&FeedbackResponseModel{},
		&AppliedBlockModel{},
		&CheckpointModel{},
		&QuarantineModel{},
		&WriteAuditModel{},
		&TaskModel{},
	)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
