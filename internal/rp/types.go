package rp

import (
	"encoding/json"
	"fmt"
	"time"
)

// maxMillisTimestamp is the upper bound for a value to be interpreted as
// milliseconds (approximately year 2286). Values at or above this threshold
// are treated as microseconds.
const maxMillisTimestamp int64 = 1e13

// EpochMillis represents a point in time serialized as an integer epoch
// timestamp. On deserialization it auto-detects whether the value is
// milliseconds or microseconds based on its magnitude. Serialization always
// produces milliseconds.
type EpochMillis time.Time

// Time returns the underlying time.Time value.
func (e EpochMillis) Time() time.Time { return time.Time(e) }

// MarshalJSON serializes EpochMillis as Unix milliseconds.
func (e EpochMillis) MarshalJSON() ([]byte, error) {
	ms := time.Time(e).UnixMilli()
	return json.Marshal(ms)
}

// UnmarshalJSON deserializes an integer timestamp, auto-detecting ms or us.
func (e *EpochMillis) UnmarshalJSON(data []byte) error {
	var value int64
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("unmarshal epoch millis: %w", err)
	}
	if value >= maxMillisTimestamp {
		*e = EpochMillis(time.UnixMicro(value))
	} else {
		*e = EpochMillis(time.UnixMilli(value))
	}
	return nil
}

// Status is a terminal launch or item status.
type Status string

const (
	StatusPassed    Status = "PASSED"
	StatusFailed    Status = "FAILED"
	StatusStopped   Status = "STOPPED"
	StatusSkipped   Status = "SKIPPED"
	StatusReseted   Status = "RESETED"
	StatusCancelled Status = "CANCELLED"
)

// ItemType is the kind of a test item.
type ItemType string

const (
	TypeSuite        ItemType = "SUITE"
	TypeStory        ItemType = "STORY"
	TypeTest         ItemType = "TEST"
	TypeScenario     ItemType = "SCENARIO"
	TypeStep         ItemType = "STEP"
	TypeBeforeClass  ItemType = "BEFORE_CLASS"
	TypeBeforeGroups ItemType = "BEFORE_GROUPS"
	TypeBeforeMethod ItemType = "BEFORE_METHOD"
	TypeBeforeSuite  ItemType = "BEFORE_SUITE"
	TypeBeforeTest   ItemType = "BEFORE_TEST"
	TypeAfterClass   ItemType = "AFTER_CLASS"
	TypeAfterGroups  ItemType = "AFTER_GROUPS"
	TypeAfterMethod  ItemType = "AFTER_METHOD"
	TypeAfterSuite   ItemType = "AFTER_SUITE"
	TypeAfterTest    ItemType = "AFTER_TEST"
)

var itemTypes = map[ItemType]bool{
	TypeSuite: true, TypeStory: true, TypeTest: true, TypeScenario: true, TypeStep: true,
	TypeBeforeClass: true, TypeBeforeGroups: true, TypeBeforeMethod: true, TypeBeforeSuite: true, TypeBeforeTest: true,
	TypeAfterClass: true, TypeAfterGroups: true, TypeAfterMethod: true, TypeAfterSuite: true, TypeAfterTest: true,
}

// Valid reports whether t is one of the item types the server accepts.
func (t ItemType) Valid() bool { return itemTypes[t] }

// LogLevel is the severity of a log entry. The zero value leaves it unset.
type LogLevel string

const (
	LevelTrace LogLevel = "TRACE"
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// IssueNotIssue is the issue type that marks an item as "no defect".
const IssueNotIssue = "NOT_ISSUE"

// --- Request types ---

// ItemAttributesRQ is one key/value/system triple sent with a launch or item.
type ItemAttributesRQ struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	System bool   `json:"system"`
}

// StartLaunchRQ starts a launch.
type StartLaunchRQ struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Attributes  []ItemAttributesRQ `json:"attributes,omitempty"`
	StartTime   EpochMillis        `json:"startTime"`
	Mode        string             `json:"mode,omitempty"`
	Rerun       bool               `json:"rerun,omitempty"`
}

// FinishExecutionRQ finishes a launch.
type FinishExecutionRQ struct {
	EndTime     EpochMillis        `json:"endTime"`
	Status      Status             `json:"status,omitempty"`
	Description string             `json:"description,omitempty"`
	Attributes  []ItemAttributesRQ `json:"attributes,omitempty"`
}

// StartTestItemRQ starts a test item. HasStats is always sent.
type StartTestItemRQ struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Attributes  []ItemAttributesRQ `json:"attributes,omitempty"`
	Parameters  []ItemAttributesRQ `json:"parameters,omitempty"`
	StartTime   EpochMillis        `json:"startTime"`
	LaunchUUID  string             `json:"launchUuid"`
	Type        ItemType           `json:"type"`
	HasStats    bool               `json:"hasStats"`
	CodeRef     string             `json:"codeRef,omitempty"`
	TestCaseID  string             `json:"testCaseId,omitempty"`
}

// FinishTestItemRQ finishes a test item.
type FinishTestItemRQ struct {
	EndTime    EpochMillis        `json:"endTime"`
	Status     Status             `json:"status,omitempty"`
	Issue      *Issue             `json:"issue,omitempty"`
	LaunchUUID string             `json:"launchUuid"`
	Attributes []ItemAttributesRQ `json:"attributes,omitempty"`
}

// UpdateTestItemRQ updates description and attributes of an existing item.
type UpdateTestItemRQ struct {
	Description string             `json:"description,omitempty"`
	Attributes  []ItemAttributesRQ `json:"attributes,omitempty"`
}

// SaveLogRQ is one log entry. In a batch, File names the multipart file
// part holding its attachment.
type SaveLogRQ struct {
	LaunchUUID string      `json:"launchUuid"`
	ItemUUID   string      `json:"itemUuid,omitempty"`
	Time       EpochMillis `json:"time"`
	Message    string      `json:"message"`
	Level      LogLevel    `json:"level,omitempty"`
	File       *FileRef    `json:"file,omitempty"`
}

// FileRef links a log entry to a multipart file part by name.
type FileRef struct {
	Name string `json:"name"`
}

// FilePart is the binary content of one attachment in a log batch.
type FilePart struct {
	Name    string
	Content []byte
	MIME    string
}

// --- Response types ---

// EntryCreatedRS is returned by create endpoints; ID is the new uuid.
type EntryCreatedRS struct {
	ID     string `json:"id"`
	Number int    `json:"number,omitempty"`
}

// OperationCompletionRS acknowledges an update or finish.
type OperationCompletionRS struct {
	Message string `json:"message"`
}

// FinishLaunchRS acknowledges a finished launch.
type FinishLaunchRS struct {
	ID     string `json:"id"`
	Number int    `json:"number,omitempty"`
	Link   string `json:"link,omitempty"`
}

// BatchElementCreatedRS is one entry of a batch acknowledgement.
type BatchElementCreatedRS struct {
	ID         string `json:"id,omitempty"`
	Message    string `json:"message,omitempty"`
	ErrorCode  int    `json:"errorCode,omitempty"`
	StackTrace string `json:"stackTrace,omitempty"`
}

// BatchSaveOperatingRS acknowledges a log batch.
type BatchSaveOperatingRS struct {
	Responses []BatchElementCreatedRS `json:"responses"`
}

// LaunchResource represents a Report Portal launch.
type LaunchResource struct {
	ID          int                     `json:"id"`
	UUID        string                  `json:"uuid,omitempty"`
	Name        string                  `json:"name,omitempty"`
	Number      int                     `json:"number,omitempty"`
	Status      string                  `json:"status,omitempty"`
	StartTime   *EpochMillis            `json:"startTime,omitempty"`
	EndTime     *EpochMillis            `json:"endTime,omitempty"`
	Description string                  `json:"description,omitempty"`
	Owner       string                  `json:"owner,omitempty"`
	Attributes  []ItemAttributeResource `json:"attributes,omitempty"`
}

// TestItemResource represents a Report Portal test item (step/test/suite).
type TestItemResource struct {
	ID          int                     `json:"id"`
	UUID        string                  `json:"uuid,omitempty"`
	Name        string                  `json:"name,omitempty"`
	Type        string                  `json:"type,omitempty"`
	Status      string                  `json:"status,omitempty"`
	LaunchID    int                     `json:"launchId,omitempty"`
	CodeRef     string                  `json:"codeRef,omitempty"`
	Description string                  `json:"description,omitempty"`
	Parent      int                     `json:"parent,omitempty"`
	Path        string                  `json:"path,omitempty"`
	StartTime   *EpochMillis            `json:"startTime,omitempty"`
	EndTime     *EpochMillis            `json:"endTime,omitempty"`
	Issue       *Issue                  `json:"issue,omitempty"`
	Attributes  []ItemAttributeResource `json:"attributes,omitempty"`
	HasChildren bool                    `json:"hasChildren,omitempty"`
	HasStats    bool                    `json:"hasStats,omitempty"`
}

// Issue represents the defect/issue information attached to a test item.
type Issue struct {
	IssueType            string                `json:"issueType,omitempty"`
	Comment              string                `json:"comment,omitempty"`
	AutoAnalyzed         bool                  `json:"autoAnalyzed,omitempty"`
	IgnoreAnalyzer       bool                  `json:"ignoreAnalyzer,omitempty"`
	ExternalSystemIssues []ExternalSystemIssue `json:"externalSystemIssues,omitempty"`
}

// ExternalSystemIssue links a test item to an external bug tracker.
type ExternalSystemIssue struct {
	TicketID string `json:"ticketId,omitempty"`
	URL      string `json:"url,omitempty"`
	BtsURL   string `json:"btsUrl,omitempty"`
}

// ItemAttributeResource represents a key-value attribute on a launch/item.
type ItemAttributeResource struct {
	Key    string `json:"key,omitempty"`
	Value  string `json:"value,omitempty"`
	System bool   `json:"system,omitempty"`
}

// ProjectSettingsResource holds the project's defect sub-types.
type ProjectSettingsResource struct {
	ProjectID int                               `json:"project"`
	SubTypes  map[string][]IssueSubTypeResource `json:"subTypes"`
}

// IssueSubTypeResource is one configured defect type.
type IssueSubTypeResource struct {
	ID        int    `json:"id"`
	Locator   string `json:"locator"`
	TypeRef   string `json:"typeRef"`
	LongName  string `json:"longName"`
	ShortName string `json:"shortName"`
	Color     string `json:"color"`
}

// --- Paginated response wrappers ---

// PagedItems is the paginated response for item listing.
type PagedItems struct {
	Content []TestItemResource `json:"content"`
	Page    PageInfo           `json:"page"`
}

// PageInfo holds pagination metadata.
type PageInfo struct {
	Number        int `json:"number"`
	Size          int `json:"size"`
	TotalElements int `json:"totalElements"`
	TotalPages    int `json:"totalPages"`
}

// ErrorRS is the standard RP error response shape.
type ErrorRS struct {
	ErrorCode int    `json:"errorCode"`
	Message   string `json:"message"`
}
