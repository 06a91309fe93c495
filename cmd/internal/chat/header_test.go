package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeHeader_ProfileWinsRegardlessOfOrder(t *testing.T) {
	t.Parallel()

	participants := Header{Counterpart: Counterpart{ID: "u-bob", FirstName: "B."}, Source: HeaderParticipants}
	profile := Header{Counterpart: Counterpart{ID: "u-bob", FirstName: "Bob", LastName: "Builder"}, Source: HeaderProfile}

	h := MergeHeader(MergeHeader(Header{}, participants), profile)
	assert.Equal(t, "Bob", h.Counterpart.FirstName)

	h = MergeHeader(MergeHeader(Header{}, profile), participants)
	assert.Equal(t, "Bob", h.Counterpart.FirstName)

	assert.Equal(t, profile, MergeHeader(profile, Header{}))
}

func TestHeader_TitleFallbacks(t *testing.T) {
	t.Parallel()

	msgs := []Message{
		{SenderID: "u-alice", SenderFirstName: "Alice"},
		{SenderID: "u-bob", SenderFirstName: "bob", SenderLastName: "Builder"},
	}

	var h Header
	assert.Equal(t, "bob Builder", h.Title(msgs, "u-alice"))
	assert.Equal(t, "B", h.Initial(msgs, "u-alice"))

	assert.Equal(t, "Chat User", h.Title(nil, "u-alice"))
	assert.Equal(t, "U", h.Initial(nil, "u-alice"))

	h = Header{Counterpart: Counterpart{FirstName: "Robert"}, Source: HeaderProfile}
	assert.Equal(t, "Robert", h.Title(msgs, "u-alice"))
	assert.Equal(t, "R", h.Initial(msgs, "u-alice"))
}
