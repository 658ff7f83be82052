package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&StoreInfo{},
	&CalibrationRecord{},
	&CalibrationHistory{},
}

////////////////////////
// SYSTEM MODELS
////////////////////////

// StoreInfo describes the calibration store instance
type StoreInfo struct {
	gorm.Model
	SchemaVersion int    `json:"schemaVersion"`
	CreatedBy     string `json:"createdBy" gorm:"size:127"`
}

func (*StoreInfo) TableName() string {
	return "store_infos"
}

////////////////////////
// CALIBRATION MODELS
////////////////////////

// CalibrationRecord is the latest committed calibration of a trace folder
type CalibrationRecord struct {
	gorm.Model
	TraceFolder         string         `json:"traceFolder" gorm:"size:512;uniqueIndex"`
	StartupTime         float64        `json:"startupTime"`
	SegmentID           int            `json:"segmentId"`
	UserEvent           datatypes.JSON `json:"userEvent"`
	ManifestRequestTime float64        `json:"manifestRequestTime"`
	CommittedAt         time.Time      `json:"committedAt" gorm:"index"`
}

func (*CalibrationRecord) TableName() string {
	return "calibration_records"
}

// CalibrationHistory keeps every commit, including the ones later overwritten
type CalibrationHistory struct {
	ID          uint      `json:"id" gorm:"primarykey"`
	TraceFolder string    `json:"traceFolder" gorm:"size:512;index"`
	StartupTime float64   `json:"startupTime"`
	SegmentID   int       `json:"segmentId"`
	CommittedAt time.Time `json:"committedAt"`
}

func (*CalibrationHistory) TableName() string {
	return "calibration_histories"
}
