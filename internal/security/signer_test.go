package security

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/avaropoint/wpsgate/internal/protocol"
)

const testDate = "Tue, 14 Nov 2023 22:13:20 GMT"

func newTestSigner() *Signer {
	return NewSigner(testAppID, testSecret, WithSignerClock(fixedClock(time.Unix(testTime, 0))))
}

func TestSignKSO1(t *testing.T) {
	s := newTestSigner()

	tests := []struct {
		name string
		req  SignRequest
		want map[string]string
	}{
		{
			name: "post with body",
			req: SignRequest{
				Method:      http.MethodPost,
				URI:         "/v7/messages/create",
				ContentType: "application/json",
				Body:        []byte(`{"a":1}`),
			},
			want: map[string]string{
				protocol.HeaderDate:          testDate,
				protocol.HeaderAuthorization: "KSO-1 app1:348eff6f2e93848a4277d7cd8c114cb12b4cfc7097b12edf308b1cf973a5ef6f",
				protocol.HeaderContentType:   "application/json",
			},
		},
		{
			name: "get with query",
			req: SignRequest{
				Method: "get",
				URI:    "/v7/users",
				Query:  url.Values{"id": {"1"}},
			},
			want: map[string]string{
				protocol.HeaderDate:          testDate,
				protocol.HeaderAuthorization: "KSO-1 app1:bac2651c5d312c7b0b01e7b55548b91e1c6b83dd9a7a8a38d450b41755005fef",
				protocol.HeaderContentType:   "",
			},
		},
		{
			name: "query already in uri",
			req:  SignRequest{Method: http.MethodGet, URI: "/v7/users?id=1"},
			want: map[string]string{
				protocol.HeaderDate:          testDate,
				protocol.HeaderAuthorization: "KSO-1 app1:bac2651c5d312c7b0b01e7b55548b91e1c6b83dd9a7a8a38d450b41755005fef",
				protocol.HeaderContentType:   "",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Sign(SchemeKSO1, tt.req))
		})
	}
}

func TestSignKSO1Legacy(t *testing.T) {
	s := newTestSigner()

	post := s.Sign(SchemeKSO1Legacy, SignRequest{
		Method:      http.MethodPost,
		URI:         "/v7/messages/create",
		ContentType: "application/json",
		Body:        []byte(`{"a":1}`),
	})
	assert.Equal(t, map[string]string{
		protocol.HeaderDate:          testDate,
		protocol.HeaderAuthorization: "KSO-1:app1:jCE4bnQtkK7K9qj35eMxgFcyKCk=",
		protocol.HeaderContentType:   "application/json",
	}, post)

	get := s.Sign(SchemeKSO1Legacy, SignRequest{
		Method:      http.MethodGet,
		URI:         "/v7/users",
		Query:       url.Values{"b": {"x y"}, "a": {"1"}},
		ContentType: "application/json",
	})
	assert.Equal(t, map[string]string{
		protocol.HeaderDate:          testDate,
		protocol.HeaderAuthorization: "KSO-1:app1:JJeUOqU45tALX0PJx+Fgqa/xQKQ=",
		protocol.HeaderContentType:   "",
	}, get, "content type is only signed alongside a body")
}

func TestSignDateIsUTC(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	s := NewSigner(testAppID, testSecret, WithSignerClock(fixedClock(time.Unix(testTime, 0).In(loc))))
	h := s.Sign(SchemeKSO1, SignRequest{Method: http.MethodGet, URI: "/"})
	assert.Equal(t, testDate, h[protocol.HeaderDate])
}

func TestParseSigningScheme(t *testing.T) {
	for in, want := range map[string]SigningScheme{
		"":            SchemeKSO1,
		"kso1":        SchemeKSO1,
		"KSO-1":       SchemeKSO1,
		"kso1-legacy": SchemeKSO1Legacy,
		"legacy":      SchemeKSO1Legacy,
	} {
		got, ok := ParseSigningScheme(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseSigningScheme("hmac")
	assert.False(t, ok)
	assert.Equal(t, "kso1-legacy", SchemeKSO1Legacy.String())
}
