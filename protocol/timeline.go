package protocol

import (
	"time"

	"github.com/google/uuid"
)

const (
	ResultSucceeded = "Succeeded"
	ResultFailed    = "Failed"
	ResultSkipped   = "Skipped"
	ResultCanceled  = "Canceled"
)

type Issue struct {
	Type    string // notice, error or warning
	Message string
}

type TimelineRecord struct {
	ID         string
	ParentID   string
	Type       string
	Name       string
	RefName    string
	StartTime  string
	FinishTime *string
	State      string
	Result     *string
	Order      int32
	Issues     []Issue
}

type TimelineRecordWrapper struct {
	Count int64
	Value []*TimelineRecord
}

type TimelineRecordFeedLinesWrapper struct {
	Count     int64
	Value     []string
	StepID    string
	StartLine *int64
}

func (rec *TimelineRecord) Start() {
	time := time.Now().UTC().Format(TimestampOutputFormat)
	rec.State = "InProgress"
	rec.StartTime = time
	rec.FinishTime = nil
}

func (rec *TimelineRecord) Complete(res string) {
	time := time.Now().UTC().Format(TimestampOutputFormat)
	rec.State = "Completed"
	rec.FinishTime = &time
	rec.Result = &res
}

// ResultOrState returns the result of a completed record and the state otherwise
func (rec *TimelineRecord) ResultOrState() string {
	if rec.Result != nil {
		return *rec.Result
	}
	return rec.State
}

func (rec *TimelineRecord) AddIssue(ty, message string) {
	rec.Issues = append(rec.Issues, Issue{Type: ty, Message: message})
}

func CreateTimelineEntry(parent string, refname string, name string) TimelineRecord {
	record := TimelineRecord{}
	record.ID = uuid.New().String()
	record.RefName = refname
	record.Name = name
	record.Type = "Task"
	record.ParentID = parent
	record.State = "Pending"
	record.Order = 1
	return record
}
