package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpstreamErrorUnwrap(t *testing.T) {
	cause := errors.New("429 resource exhausted")
	err := fmt.Errorf("stream: %w", &UpstreamError{Kind: KindTransient, Model: "gemini-2.5-flash", Err: cause})

	assert.ErrorIs(t, err, ErrTransientUpstream)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrInvalidCredential)

	invalid := &UpstreamError{Kind: KindInvalidCredential, Model: "m", Credential: "AIza...abcd", Err: cause}
	assert.ErrorIs(t, invalid, ErrInvalidCredential)
	assert.Contains(t, invalid.Error(), "AIza...abcd")
}

func TestExhaustedErrorCarriesLast(t *testing.T) {
	last := &UpstreamError{Kind: KindTransient, Model: "b", Err: errors.New("503")}
	err := &ExhaustedError{Attempts: 4, Last: last}

	assert.ErrorIs(t, err, ErrAllResourcesExhausted)
	assert.ErrorIs(t, err, ErrTransientUpstream)

	var got *UpstreamError
	assert.True(t, errors.As(err, &got))
	assert.Equal(t, "b", got.Model)
}

func TestDescribeError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      ErrorKind
		retryable bool
	}{
		{"nil", nil, "", false},
		{"cancelled", context.Canceled, KindCancelled, true},
		{"exhausted", &ExhaustedError{Attempts: 2, Last: errors.New("x")}, KindExhausted, true},
		{"exhausted without keys", &ExhaustedError{Last: ErrNoCredentialsAvailable}, KindNoCredentials, true},
		{"transient", &UpstreamError{Kind: KindTransient, Err: errors.New("x")}, KindTransient, true},
		{"invalid key", &UpstreamError{Kind: KindInvalidCredential, Err: errors.New("x")}, KindInvalidCredential, true},
		{"not found", ErrSectionNotFound, KindSectionNotFound, false},
		{"busy", ErrBusy, KindInvalidAction, false},
		{"other", errors.New("boom"), KindInternal, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := DescribeError(tt.err)
			assert.Equal(t, tt.kind, info.Kind)
			assert.Equal(t, tt.retryable, info.Retryable)
			if tt.err != nil {
				assert.NotEmpty(t, info.Message)
			}
		})
	}
}

func TestConversationCommit(t *testing.T) {
	var c Conversation
	c.Commit("viết dàn ý", "I. ĐẶT VẤN ĐỀ")
	turns := c.Turns()
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, ChatTurn{Role: RoleUser, Text: "viết dàn ý"}, turns[0])
	assert.Equal(t, ChatTurn{Role: RoleModel, Text: "I. ĐẶT VẤN ĐỀ"}, turns[1])

	turns[0].Text = "changed"
	assert.Equal(t, "viết dàn ý", c.Turns()[0].Text)

	c.Reset()
	assert.Zero(t, c.Len())
}

func TestTopicShortTitle(t *testing.T) {
	topic := TopicInfo{Topic: "Ứng dụng trí tuệ nhân tạo trong dạy học Toán lớp 10"}
	assert.Equal(t, []rune("Ứng dụng trí tuệ nhân tạo trong dạy học Toán lớp 10")[:30], []rune(topic.ShortTitle(30)))
	assert.Equal(t, "ngắn", TopicInfo{Topic: " ngắn "}.ShortTitle(30))
	assert.True(t, TopicInfo{IncludeSolution45: true}.Flags()[FlagIncludeSolution45])
}
