package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonMediaAcquire ReasonCode = "media_acquire"
	ReasonNegotiate    ReasonCode = "negotiate"

	ReasonSignalSession   ReasonCode = "signal_session"
	ReasonSignalOffer     ReasonCode = "signal_offer"
	ReasonSessionNotFound ReasonCode = "session_not_found"
	ReasonOfferDecode     ReasonCode = "offer_decode"

	ReasonProtocolDecode  ReasonCode = "protocol_decode"
	ReasonChannelSend     ReasonCode = "channel_send"
	ReasonTransportFailed ReasonCode = "transport_failed"
)
