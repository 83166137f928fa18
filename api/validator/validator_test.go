package validator_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pegaoupassa/swipe-core/api"
	"github.com/pegaoupassa/swipe-core/api/validator"
)

func TestValidator_ValidateStruct(t *testing.T) {
	v := validator.New()

	tests := []struct {
		name   string
		input  interface{}
		fields []string
	}{
		{
			name:  "ValidPreferences",
			input: api.DefaultPreferences(),
		},
		{
			name:   "AgeRangeInverted",
			input:  api.Preferences{LookingFor: "both", MinAge: 40, MaxAge: 30, MaxDistance: 10},
			fields: []string{"max_age"},
		},
		{
			name:   "UnknownGenderAndUnderage",
			input:  api.Preferences{LookingFor: "robots", MinAge: 16, MaxAge: 30, MaxDistance: 10},
			fields: []string{"looking_for", "min_age"},
		},
		{
			name:  "ValidNotification",
			input: api.NotificationPayload{Type: api.NotificationMessage, ConversationID: "c1"},
		},
		{
			name:   "MissingNotificationType",
			input:  api.NotificationPayload{ConversationID: "c1"},
			fields: []string{"type"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := v.ValidateStruct(tt.input)

			var got []string
			for _, e := range errs {
				got = append(got, e.Field)
			}
			if diff := cmp.Diff(tt.fields, got); diff != "" {
				t.Errorf("Invalid fields mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValidator_Check(t *testing.T) {
	v := validator.New()

	if err := v.Check(api.DefaultPreferences()); err != nil {
		t.Errorf("Check() = %v, want nil", err)
	}
	err := v.Check(api.NotificationPayload{Type: "poke"})
	if err == nil {
		t.Fatal("Check() = nil, want error")
	}
	if want := "type: must be one of: message match like"; err.Error() != want {
		t.Errorf("Check() = %q, want %q", err.Error(), want)
	}
}

func TestValidator_Validate(t *testing.T) {
	v := validator.New()

	tests := []struct {
		name    string
		value   interface{}
		tag     string
		wantErr bool
	}{
		{
			name:  "KnownMediaType",
			value: api.MediaAudio,
			tag:   "oneof=image audio",
		},
		{
			name:    "UnknownMediaType",
			value:   "video",
			tag:     "oneof=image audio",
			wantErr: true,
		},
		{
			name:  "RequiredPresent",
			value: "c1",
			tag:   "required",
		},
		{
			name:    "RequiredEmpty",
			value:   "",
			tag:     "required",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := v.Validate(tt.value, tt.tag)

			if tt.wantErr && len(errs) == 0 {
				t.Error("Validate() expected errors but got none")
			}
			if !tt.wantErr && len(errs) > 0 {
				t.Errorf("Validate() got unexpected errors: %v", errs)
			}
		})
	}
}
