package domain

var validNext = map[PinStatus]map[PinStatus]bool{
	PinWaiting:   {PinActive: true, PinCancelled: true},
	PinActive:    {PinWaiting: true, PinReserved: true, PinCancelled: true},
	PinReserved:  {PinActive: true, PinWaiting: true},
	PinCancelled: {},
}

// CanTransition reports whether a pin may move from one status to
// another. reserved -> waiting happens only through the spot exchange,
// where ownership changes hands in the same step.
func CanTransition(from, to PinStatus) bool {
	return validNext[from][to]
}

// Terminal reports whether a transfer request status can no longer
// change.
func (s TransferStatus) Terminal() bool {
	return s == TransferAccepted || s == TransferDeclined || s == TransferExpired
}
