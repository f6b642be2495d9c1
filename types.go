package iedserver

import "strconv"

// Handle is an opaque reference to an object owned by the protocol engine
// (model node, control block, client connection, log storage).
// The zero Handle means "absent".
type Handle uintptr

type MmsType int

type MmsValue struct {
	Type  MmsType
	Value interface{}
}

// data types
const (
	Array MmsType = iota
	Structure
	Boolean
	BitString
	Integer
	Unsigned
	Float
	OctetString
	VisibleString
	GeneralizedTime
	BinaryTime
	Bcd
	ObjId
	String
	UTCTime
	DataAccessError
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
)

type MmsDataAccessError int

const (
	DATA_ACCESS_ERROR_SUCCESS_NO_UPDATE             MmsDataAccessError = -3
	DATA_ACCESS_ERROR_NO_RESPONSE                   MmsDataAccessError = -2
	DATA_ACCESS_ERROR_SUCCESS                       MmsDataAccessError = -1
	DATA_ACCESS_ERROR_OBJECT_INVALIDATED            MmsDataAccessError = 0
	DATA_ACCESS_ERROR_HARDWARE_FAULT                MmsDataAccessError = 1
	DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE       MmsDataAccessError = 2
	DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED          MmsDataAccessError = 3
	DATA_ACCESS_ERROR_OBJECT_UNDEFINED              MmsDataAccessError = 4
	DATA_ACCESS_ERROR_INVALID_ADDRESS               MmsDataAccessError = 5
	DATA_ACCESS_ERROR_TYPE_UNSUPPORTED              MmsDataAccessError = 6
	DATA_ACCESS_ERROR_TYPE_INCONSISTENT             MmsDataAccessError = 7
	DATA_ACCESS_ERROR_OBJECT_ATTRIBUTE_INCONSISTENT MmsDataAccessError = 8
	DATA_ACCESS_ERROR_OBJECT_ACCESS_UNSUPPORTED     MmsDataAccessError = 9
	DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT          MmsDataAccessError = 10
	DATA_ACCESS_ERROR_OBJECT_VALUE_INVALID          MmsDataAccessError = 11
	DATA_ACCESS_ERROR_UNKNOWN                       MmsDataAccessError = 12
)

// AccessPolicy is the default write policy applied to a functional constraint
// when no write access handler is bound to the attribute being written.
type AccessPolicy int

const (
	ACCESS_POLICY_ALLOW AccessPolicy = iota
	ACCESS_POLICY_DENY
)

type ControlHandlerResult int

const (
	CONTROL_RESULT_FAILED ControlHandlerResult = iota
	CONTROL_RESULT_OK
	CONTROL_RESULT_WAITING
)

// CheckHandlerResult is returned by a CheckHandler. Values match the
// data access error codes reported to the client.
type CheckHandlerResult int

const (
	CONTROL_ACCEPTED                CheckHandlerResult = -1
	CONTROL_HARDWARE_FAULT          CheckHandlerResult = 1
	CONTROL_TEMPORARILY_UNAVAILABLE CheckHandlerResult = 2
	CONTROL_OBJECT_ACCESS_DENIED    CheckHandlerResult = 3
	CONTROL_OBJECT_UNDEFINED        CheckHandlerResult = 4
)

type ControlModel int

const (
	// CONTROL_MODEL_STATUS_ONLY No support for control functions. Control object only support status information.
	CONTROL_MODEL_STATUS_ONLY ControlModel = iota
	// CONTROL_MODEL_DIRECT_NORMAL Direct control with normal security: Supports Operate, TimeActivatedOperate (optional), and Cancel (optional).
	CONTROL_MODEL_DIRECT_NORMAL
	// CONTROL_MODEL_SBO_NORMAL Select before operate (SBO) with normal security: Supports Select, Operate, TimeActivatedOperate (optional), and Cancel (optional).
	CONTROL_MODEL_SBO_NORMAL
	// CONTROL_MODEL_DIRECT_ENHANCED Direct control with enhanced security (enhanced security includes the CommandTermination service)
	CONTROL_MODEL_DIRECT_ENHANCED
	// CONTROL_MODEL_SBO_ENHANCED Select before operate (SBO) with enhanced security (enhanced security includes the CommandTermination service)
	CONTROL_MODEL_SBO_ENHANCED
)

// IsSBO reports whether the model requires a select before operate.
func (m ControlModel) IsSBO() bool {
	return m == CONTROL_MODEL_SBO_NORMAL || m == CONTROL_MODEL_SBO_ENHANCED
}

// IsEnhanced reports whether the model uses the CommandTermination service.
func (m ControlModel) IsEnhanced() bool {
	return m == CONTROL_MODEL_DIRECT_ENHANCED || m == CONTROL_MODEL_SBO_ENHANCED
}

// SelectStateChangedReason tells a ControlSelectStateChangedHandler why the
// select state of a control object changed.
type SelectStateChangedReason int

const (
	// SELECT_STATE_REASON_SELECTED Control has been selected
	SELECT_STATE_REASON_SELECTED SelectStateChangedReason = iota
	// SELECT_STATE_REASON_CANCELED Cancel received for the control
	SELECT_STATE_REASON_CANCELED
	// SELECT_STATE_REASON_TIMEOUT Unselected due to timeout (sboTimeout)
	SELECT_STATE_REASON_TIMEOUT
	// SELECT_STATE_REASON_OPERATED Unselected due to successful operate
	SELECT_STATE_REASON_OPERATED
	// SELECT_STATE_REASON_OPERATE_FAILED Unselected due to failed operate
	SELECT_STATE_REASON_OPERATE_FAILED
	// SELECT_STATE_REASON_DISCONNECTED Unselected due to disconnection of selecting client
	SELECT_STATE_REASON_DISCONNECTED
)

// OrCat is the originator category of a control action.
type OrCat int

const (
	OR_CAT_NOT_SUPPORTED OrCat = iota
	OR_CAT_BAY_CONTROL
	OR_CAT_STATION_CONTROL
	OR_CAT_REMOTE_CONTROL
	OR_CAT_AUTOMATIC_BAY
	OR_CAT_AUTOMATIC_STATION
	OR_CAT_AUTOMATIC_REMOTE
	OR_CAT_MAINTENANCE
	OR_CAT_PROCESS
)

// ControlLastApplError is reported in the LastApplError / CommandTermination.
type ControlLastApplError int

const (
	CONTROL_ERROR_NO_ERROR ControlLastApplError = iota
	CONTROL_ERROR_UNKNOWN
	CONTROL_ERROR_TIMEOUT_TEST
	CONTROL_ERROR_OPERATOR_TEST
)

// ControlAddCause is the additional cause attached to a failed control.
type ControlAddCause int

const (
	ADD_CAUSE_UNKNOWN ControlAddCause = iota
	ADD_CAUSE_NOT_SUPPORTED
	ADD_CAUSE_BLOCKED_BY_SWITCHING_HIERARCHY
	ADD_CAUSE_SELECT_FAILED
	ADD_CAUSE_INVALID_POSITION
	ADD_CAUSE_POSITION_REACHED
	ADD_CAUSE_PARAMETER_CHANGE_IN_EXECUTION
	ADD_CAUSE_STEP_LIMIT
	ADD_CAUSE_BLOCKED_BY_MODE
	ADD_CAUSE_BLOCKED_BY_PROCESS
	ADD_CAUSE_BLOCKED_BY_INTERLOCKING
	ADD_CAUSE_BLOCKED_BY_SYNCHROCHECK
	ADD_CAUSE_COMMAND_ALREADY_IN_EXECUTION
	ADD_CAUSE_BLOCKED_BY_HEALTH
	ADD_CAUSE_1_OF_N_CONTROL
	ADD_CAUSE_ABORTION_BY_CANCEL
	ADD_CAUSE_TIME_LIMIT_OVER
	ADD_CAUSE_ABORTION_BY_TRIP
	ADD_CAUSE_OBJECT_NOT_SELECTED
	ADD_CAUSE_OBJECT_ALREADY_SELECTED
	ADD_CAUSE_NO_ACCESS_AUTHORITY
	ADD_CAUSE_ENDED_WITH_OVERSHOOT
	ADD_CAUSE_ABORTION_DUE_TO_DEVIATION
	ADD_CAUSE_ABORTION_BY_COMMUNICATION_LOSS
	ADD_CAUSE_ABORTION_BY_COMMAND
	ADD_CAUSE_NONE
	ADD_CAUSE_INCONSISTENT_PARAMETERS
	ADD_CAUSE_LOCKED_BY_OTHER_CLIENT
)

// RCBEventType enumerates report control block events.
type RCBEventType int

const (
	// RCB_EVENT_GET_PARAMETER parameter read by client
	RCB_EVENT_GET_PARAMETER RCBEventType = iota
	// RCB_EVENT_SET_PARAMETER parameter set by client
	RCB_EVENT_SET_PARAMETER
	// RCB_EVENT_UNRESERVED reservation canceled
	RCB_EVENT_UNRESERVED
	// RCB_EVENT_RESERVED reservation
	RCB_EVENT_RESERVED
	// RCB_EVENT_ENABLE RCB enabled
	RCB_EVENT_ENABLE
	// RCB_EVENT_DISABLE RCB disabled
	RCB_EVENT_DISABLE
	// RCB_EVENT_GI GI report triggered
	RCB_EVENT_GI
	// RCB_EVENT_PURGEBUF purge buffer procedure executed
	RCB_EVENT_PURGEBUF
	// RCB_EVENT_OVERFLOW report buffer overflow
	RCB_EVENT_OVERFLOW
	// RCB_EVENT_REPORT_CREATED a new report was created and inserted into the buffer
	RCB_EVENT_REPORT_CREATED
)

// GoCBEventType enumerates GOOSE control block events.
type GoCBEventType int

const (
	GOCB_EVENT_DISABLE GoCBEventType = iota
	GOCB_EVENT_ENABLE
	GOCB_EVENT_PARAMETER_CHANGED
)

// SVCBEventType enumerates sampled value control block events.
type SVCBEventType int

const (
	SVCB_EVENT_DISABLE SVCBEventType = iota
	SVCB_EVENT_ENABLE
)

type AcseAuthenticationMechanism int

const (
	// ACSE_AUTH_NONE Neither ACSE nor TLS authentication used
	ACSE_AUTH_NONE AcseAuthenticationMechanism = iota

	// ACSE_AUTH_PASSWORD Use ACSE password for client authentication
	ACSE_AUTH_PASSWORD

	// ACSE_AUTH_CERTIFICATE Use ACSE certificate for client authentication
	ACSE_AUTH_CERTIFICATE

	// ACSE_AUTH_TLS Use TLS certificate for client authentication
	ACSE_AUTH_TLS
)

// ACSIClass represents the different ACSI class types as defined in IEC 61850
type ACSIClass int

const (
	ACSI_CLASS_DATA_OBJECT ACSIClass = iota
	ACSI_CLASS_DATA_SET
	ACSI_CLASS_BRCB
	ACSI_CLASS_URCB
	ACSI_CLASS_LCB
	ACSI_CLASS_LOG
	ACSI_CLASS_SGCB
	ACSI_CLASS_GoCB
	ACSI_CLASS_GsCB
	ACSI_CLASS_MSVCB
	ACSI_CLASS_USVCB
)

// DirectoryCategory is the kind of directory listing a client requested.
type DirectoryCategory int

const (
	DIRECTORY_CAT_LD_LIST DirectoryCategory = iota
	DIRECTORY_CAT_DATA_LIST
	DIRECTORY_CAT_DATASET_LIST
	DIRECTORY_CAT_LOG_LIST
)

type DataSetOperation int

const (
	DATASET_CREATE DataSetOperation = iota
	DATASET_DELETE
	DATASET_READ
	DATASET_WRITE
	DATASET_GET_DIRECTORY
)

type ControlBlockAccessType int

const (
	CB_ACCESS_TYPE_READ ControlBlockAccessType = iota
	CB_ACCESS_TYPE_WRITE
)

// NodeType is the engine's type tag for a model node.
type NodeType int

const (
	NODE_TYPE_LOGICAL_DEVICE NodeType = iota
	NODE_TYPE_LOGICAL_NODE
	NODE_TYPE_DATA_OBJECT
	NODE_TYPE_DATA_ATTRIBUTE
)

// DataAttributeType is the basic type of a data attribute.
type DataAttributeType int

const (
	DA_TYPE_BOOLEAN DataAttributeType = iota
	DA_TYPE_INT8
	DA_TYPE_INT16
	DA_TYPE_INT32
	DA_TYPE_INT64
	DA_TYPE_INT128
	DA_TYPE_INT8U
	DA_TYPE_INT16U
	DA_TYPE_INT24U
	DA_TYPE_INT32U
	DA_TYPE_FLOAT32
	DA_TYPE_FLOAT64
	DA_TYPE_ENUMERATED
	DA_TYPE_OCTET_STRING_64
	DA_TYPE_OCTET_STRING_6
	DA_TYPE_OCTET_STRING_8
	DA_TYPE_VISIBLE_STRING_32
	DA_TYPE_VISIBLE_STRING_64
	DA_TYPE_VISIBLE_STRING_65
	DA_TYPE_VISIBLE_STRING_129
	DA_TYPE_VISIBLE_STRING_255
	DA_TYPE_UNICODE_STRING_255
	DA_TYPE_TIMESTAMP
	DA_TYPE_QUALITY
	DA_TYPE_CHECK
	DA_TYPE_CODEDENUM
	DA_TYPE_GENERIC_BITSTRING
	DA_TYPE_CONSTRUCTED
	DA_TYPE_ENTRY_TIME
	DA_TYPE_PHYCOMADDR
	DA_TYPE_CURRENCY
)

func (t NodeType) String() string {
	switch t {
	case NODE_TYPE_LOGICAL_DEVICE:
		return "LogicalDevice"
	case NODE_TYPE_LOGICAL_NODE:
		return "LogicalNode"
	case NODE_TYPE_DATA_OBJECT:
		return "DataObject"
	case NODE_TYPE_DATA_ATTRIBUTE:
		return "DataAttribute"
	default:
		return "NodeType(" + strconv.Itoa(int(t)) + ")"
	}
}
