package exchange

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrorKind classifies broker business rejections
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAltVenueNotTradable
	KindNotTradingDay
	KindMarketNotOpen
)

func (k ErrorKind) String() string {
	switch k {
	case KindAltVenueNotTradable:
		return "alt_venue_not_tradable"
	case KindNotTradingDay:
		return "not_trading_day"
	case KindMarketNotOpen:
		return "market_not_open"
	default:
		return "unknown"
	}
}

// BrokerError is a rejection returned in a response body with a non-zero return code
type BrokerError struct {
	Kind    ErrorKind
	Code    string // broker message code, e.g. RC4025
	Message string
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker rejected (%s %s): %s", e.Kind, e.Code, e.Message)
}

// ErrNotFound is returned when a lookup has no data
var ErrNotFound = errors.New("not found")

// Message codes the broker embeds in return_msg
const (
	codeAltVenueNotTradable = "RC4025"
	codeNotTradingDay       = "RC4007"
	codeMarketNotOpen       = "RC4058"
)

var msgCodePattern = regexp.MustCompile(`RC\d{4}`)

// DecodeReturn turns a return_code/return_msg pair into a BrokerError.
// A zero return code yields nil.
func DecodeReturn(returnCode int, returnMsg string) error {
	if returnCode == 0 {
		return nil
	}
	code := msgCodePattern.FindString(returnMsg)
	return &BrokerError{
		Kind:    classify(code, returnMsg),
		Code:    code,
		Message: strings.TrimSpace(returnMsg),
	}
}

func classify(code, msg string) ErrorKind {
	switch code {
	case codeAltVenueNotTradable:
		return KindAltVenueNotTradable
	case codeNotTradingDay:
		return KindNotTradingDay
	case codeMarketNotOpen:
		return KindMarketNotOpen
	}
	// some rejections carry no code, only text
	switch {
	case strings.Contains(msg, "매매거래일이 아닙니다"):
		return KindNotTradingDay
	case strings.Contains(msg, "장시작전"), strings.Contains(msg, "장 시작 전"):
		return KindMarketNotOpen
	}
	return KindUnknown
}

// KindOf returns the kind of a BrokerError anywhere in err's chain
func KindOf(err error) ErrorKind {
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}
