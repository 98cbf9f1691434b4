package scoring

// DetectTransition compares the previous categorical state against the newly
// computed one. Pure and stateless; invoked inline by the batch runner per
// entity. IsConcerning is true only when the move descends the ordinal scale.
func DetectTransition(scale OrdinalScale, previousState, newState string) Transition {
	if previousState == newState {
		return Transition{}
	}
	return Transition{
		IsTransition: true,
		IsConcerning: scale.Worsened(previousState, newState),
	}
}
