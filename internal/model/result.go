// Package model contains the shared data model: the outcome vocabulary used on
// the engine's control mailbox, the PPP and SSTP frame variants, and the
// interfaces of the host collaborators (tun device, trust store, reporter).
package model

import "fmt"

// Result is the outcome a task reports on the control mailbox. PROCEEDED is
// the only non-terminal value; every other value triggers teardown.
type Result int

const (
	Proceeded Result = iota
	ErrTimeout
	ErrCountExhausted
	ErrUnknownType
	ErrUnexpectedMessage
	ErrParsingFailed
	ErrVerificationFailed
	ErrNegativeAcknowledged
	ErrAbortRequested
	ErrDisconnectRequested
	ErrTerminateRequested
	ErrProtocolRejected
	ErrCodeRejected
	ErrAuthenticationFailed
	ErrAddressRejected
	ErrOptionRejected
	ErrInvalidAddress
	ErrInvalidPacketSize
)

var resultNames = map[Result]string{
	Proceeded:               "PROCEEDED",
	ErrTimeout:              "ERR_TIMEOUT",
	ErrCountExhausted:       "ERR_COUNT_EXHAUSTED",
	ErrUnknownType:          "ERR_UNKNOWN_TYPE",
	ErrUnexpectedMessage:    "ERR_UNEXPECTED_MESSAGE",
	ErrParsingFailed:        "ERR_PARSING_FAILED",
	ErrVerificationFailed:   "ERR_VERIFICATION_FAILED",
	ErrNegativeAcknowledged: "ERR_NEGATIVE_ACKNOWLEDGED",
	ErrAbortRequested:       "ERR_ABORT_REQUESTED",
	ErrDisconnectRequested:  "ERR_DISCONNECT_REQUESTED",
	ErrTerminateRequested:   "ERR_TERMINATE_REQUESTED",
	ErrProtocolRejected:     "ERR_PROTOCOL_REJECTED",
	ErrCodeRejected:         "ERR_CODE_REJECTED",
	ErrAuthenticationFailed: "ERR_AUTHENTICATION_FAILED",
	ErrAddressRejected:      "ERR_ADDRESS_REJECTED",
	ErrOptionRejected:       "ERR_OPTION_REJECTED",
	ErrInvalidAddress:       "ERR_INVALID_ADDRESS",
	ErrInvalidPacketSize:    "ERR_INVALID_PACKET_SIZE",
}

// String implements fmt.Stringer.
func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Where identifies the layer that produced a [Result].
type Where int

const (
	WhereProxy Where = iota
	WhereTLS
	WhereCert
	WhereIncoming
	WhereOutgoing
	WhereSSTPRequest
	WhereSSTPControl
	WhereLCP
	WhereLCPMRU
	WhereLCPAuth
	WherePPPControl
	WherePAP
	WhereCHAP
	WhereEAP
	WhereIPCP
	WhereIPCPIP
	WhereIPCPDNS
	WhereIPv6CP
	WhereIPv6CPIdentifier
	WhereRoute
	WhereTun
	WhereEngine
)

var whereNames = map[Where]string{
	WhereProxy:            "PROXY",
	WhereTLS:              "TLS",
	WhereCert:             "CERT",
	WhereIncoming:         "INCOMING",
	WhereOutgoing:         "OUTGOING",
	WhereSSTPRequest:      "SSTP_REQUEST",
	WhereSSTPControl:      "SSTP_CONTROL",
	WhereLCP:              "LCP",
	WhereLCPMRU:           "LCP_MRU",
	WhereLCPAuth:          "LCP_AUTH",
	WherePPPControl:       "PPP_CONTROL",
	WherePAP:              "PAP",
	WhereCHAP:             "CHAP",
	WhereEAP:              "EAP",
	WhereIPCP:             "IPCP",
	WhereIPCPIP:           "IPCP_IP",
	WhereIPCPDNS:          "IPCP_DNS",
	WhereIPv6CP:           "IPV6CP",
	WhereIPv6CPIdentifier: "IPV6CP_IDENTIFIER",
	WhereRoute:            "ROUTE",
	WhereTun:              "TUN",
	WhereEngine:           "ENGINE",
}

// String implements fmt.Stringer.
func (w Where) String() string {
	if name, ok := whereNames[w]; ok {
		return name
	}
	return fmt.Sprintf("Where(%d)", int(w))
}

// ControlMessage is what tasks post on the engine's control mailbox. The Err
// field optionally carries the underlying Go error for diagnostics; only
// Where and Result participate in the engine's decisions.
type ControlMessage struct {
	Where  Where
	Result Result
	Err    error
}

// NewControlMessage constructs a [ControlMessage].
func NewControlMessage(where Where, result Result, err error) *ControlMessage {
	return &ControlMessage{Where: where, Result: result, Err: err}
}

// String implements fmt.Stringer.
func (m *ControlMessage) String() string {
	if m.Err != nil {
		return fmt.Sprintf("%s: %s: %s", m.Where, m.Result, m.Err.Error())
	}
	return fmt.Sprintf("%s: %s", m.Where, m.Result)
}

// IsError returns true unless the message reports PROCEEDED.
func (m *ControlMessage) IsError() bool {
	return m.Result != Proceeded
}
