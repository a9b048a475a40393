package message

import "encoding/json"

// UnmarshalConnectionOffer validates the payload of a CONNECTION_OFFER
// message. A payload missing the proposal id or the SDP blob is invalid.
func UnmarshalConnectionOffer(data json.RawMessage) (ConnectionOffer, bool) {
	var offer ConnectionOffer

	if err := json.Unmarshal(data, &offer); err != nil {
		return ConnectionOffer{}, false
	}

	if offer.ID == "" || offer.Offer.SDP == "" || offer.Offer.Type == "" {
		return ConnectionOffer{}, false
	}

	return offer, true
}

// UnmarshalAddIceCandidate validates the payload of an ADD_ICE_CANDIDATE
// message. The candidate string may be empty (end-of-candidates), but the
// sub-connection id and the candidate object must be present.
func UnmarshalAddIceCandidate(data json.RawMessage) (AddIceCandidate, bool) {
	var raw struct {
		ID        *string          `json:"id"`
		Candidate *RTCIceCandidate `json:"candidate"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return AddIceCandidate{}, false
	}

	if raw.ID == nil || *raw.ID == "" || raw.Candidate == nil {
		return AddIceCandidate{}, false
	}

	var candidate AddIceCandidate

	if err := json.Unmarshal(data, &candidate); err != nil {
		return AddIceCandidate{}, false
	}

	return candidate, true
}
