package model

import "testing"

func TestJoinLocator(t *testing.T) {
	cases := []struct {
		name string
		cfg  SessionConfig
		want string
	}{
		{
			name: "explicit url wins",
			cfg:  SessionConfig{Platform: PlatformZoom, MeetingURL: "https://zoom.us/j/123", MeetingID: "123"},
			want: "https://zoom.us/j/123",
		},
		{
			name: "zoom id builds web client url",
			cfg:  SessionConfig{Platform: PlatformZoom, MeetingID: "9876543210"},
			want: "https://zoom.us/wc/join/9876543210",
		},
		{
			name: "meet code builds meeting url",
			cfg:  SessionConfig{Platform: PlatformMeet, MeetingID: "abc-defg-hij"},
			want: "https://meet.google.com/abc-defg-hij",
		},
		{
			name: "teams id passes through",
			cfg:  SessionConfig{Platform: PlatformTeams, MeetingID: "https://teams.microsoft.com/l/meetup-join/xyz"},
			want: "https://teams.microsoft.com/l/meetup-join/xyz",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.JoinLocator(); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
