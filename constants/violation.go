package constants

type ViolationType string

const (
	ViolationNaming    ViolationType = "NAMING"
	ViolationDuplicate ViolationType = "DUPLICATE"
	ViolationContent   ViolationType = "CONTENT"
)

type Severity string

const (
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// ZeroMarker tags every comment written by the mark-zero path. A submission whose
// rubric items were all zeroed by one examiner with this marker is MarkedZero.
const ZeroMarker = "[ZERO-VIOLATION]"

// ModeratorThresholdPercent is the examiner-total divergence (in percent of the
// exam's max points) above which a moderator must adjudicate.
const ModeratorThresholdPercent = 20.0

// DefaultProhibitedPattern is matched case-insensitively in source files.
const DefaultProhibitedPattern = "chatgpt"
