package session

import "github.com/burakerenkisapro1122/bchat/internal/models"

// Classification is the result of resolving an observed message against an
// observing user.
type Classification struct {
	// Relevant reports whether the message should reach the observer's
	// unread accounting at all. Group messages are relevant to every
	// observer, including their own sender (membership filtering belongs to
	// the subscription layer); a direct message is relevant only to its
	// receiver.
	Relevant bool
	// Conversation is the conversation the message belongs to from the
	// observer's point of view. It is set whenever the observer is a party
	// to the message, even when Relevant is false (the sender of a direct
	// message still needs the identifier for the local echo).
	Conversation models.Conversation
}

// Classify resolves a newly observed message relative to an observing user.
// Pure function, no error conditions.
//
// The direct-conversation identifier is always the *other* party's id: the
// receiver computes sender_id, the sender computes receiver_id. Applied
// uniformly this keeps both sides' identifiers consistent and stable across
// reconnects.
func Classify(msg models.Message, observerID int) Classification {
	if msg.GroupID != nil {
		return Classification{
			Relevant:     true,
			Conversation: models.GroupConversation(*msg.GroupID),
		}
	}
	if msg.ReceiverID == nil {
		// Malformed row: neither receiver nor group. Never relevant.
		return Classification{}
	}
	switch observerID {
	case *msg.ReceiverID:
		return Classification{
			Relevant:     true,
			Conversation: models.DirectConversation(msg.SenderID),
		}
	case msg.SenderID:
		// The observer's own outgoing message: never counted as unread,
		// but it still belongs to the conversation keyed by the receiver.
		return Classification{
			Relevant:     false,
			Conversation: models.DirectConversation(*msg.ReceiverID),
		}
	default:
		return Classification{}
	}
}
