package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	p := Payload{
		Kind:         KindProcessUpload,
		VersionID:    "65f0c0ffee00000000000001",
		UploadID:     "65f0c0ffee00000000000002",
		ConcurrentID: "d2719f00-1111-2222-3333-444455556666",
	}
	body, err := p.Encode()
	require.NoError(t, err)

	got, err := DecodePayload(body)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestPayloadValidate(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		wantErr bool
	}{
		{
			name:    "publish ok",
			payload: Payload{Kind: KindProcessPublish, VersionID: "65f0c0ffee00000000000001"},
		},
		{
			name: "upload ok",
			payload: Payload{
				Kind:         KindProcessUpload,
				VersionID:    "65f0c0ffee00000000000001",
				UploadID:     "65f0c0ffee00000000000002",
				ConcurrentID: "epoch-1",
			},
		},
		{
			name:    "publish missing version",
			payload: Payload{Kind: KindProcessPublish},
			wantErr: true,
		},
		{
			name: "upload missing epoch",
			payload: Payload{
				Kind:      KindProcessUpload,
				VersionID: "65f0c0ffee00000000000001",
				UploadID:  "65f0c0ffee00000000000002",
			},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			payload: Payload{Kind: "compact", VersionID: "65f0c0ffee00000000000001"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecodePayloadRejectsGarbage(t *testing.T) {
	_, err := DecodePayload([]byte("not json"))
	require.Error(t, err)

	_, err = DecodePayload([]byte(`{"kind":"process-publish"}`))
	require.Error(t, err)
}

func TestJobIDs(t *testing.T) {
	assert.Equal(t,
		"version-65f0c0ffee00000000000001",
		PublishJobID("65f0c0ffee00000000000001"))
	assert.Equal(t,
		"version-65f0c0ffee00000000000001-65f0c0ffee00000000000002-epoch-1",
		UploadJobID("65f0c0ffee00000000000001", "65f0c0ffee00000000000002", "epoch-1"))
}

func TestQueueKeys(t *testing.T) {
	q := New(nil, "updates")
	assert.Equal(t, "queue:updates:wait", q.waitKey())
	assert.Equal(t, "queue:updates:active", q.activeKey())
	assert.Equal(t, "queue:updates:failed", q.failedKey())
	assert.Equal(t, "queue:updates:job:version-abc", q.jobKey("version-abc"))
}
