package media

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type testputter func(ctx context.Context, params *s3.PutObjectInput) (*s3.PutObjectOutput, error)

func (f testputter) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return f(ctx, params)
}

func TestStore_UploadFile(t *testing.T) {
	tests := []struct {
		name    string
		put     testputter
		path    string
		want    string
		wantErr bool
	}{
		{
			name: "OK",
			path: "c1/123.jpg",
			put: func(_ context.Context, params *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
				if got := aws.ToString(params.Bucket); got != "chat-media" {
					t.Errorf("Bucket = %q", got)
				}
				if got := aws.ToString(params.Key); got != "c1/123.jpg" {
					t.Errorf("Key = %q", got)
				}
				if got := aws.ToString(params.ContentType); got != "image/jpeg" {
					t.Errorf("ContentType = %q", got)
				}
				body, _ := io.ReadAll(params.Body)
				if string(body) != "jpeg" {
					t.Errorf("Body = %q", body)
				}
				return &s3.PutObjectOutput{}, nil
			},
			want: "https://cdn.example.com/chat-media/c1/123.jpg",
		},
		{
			name: "LeadingSlash",
			path: "/c1/123.jpg",
			put: func(_ context.Context, params *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
				if got := aws.ToString(params.Key); got != "c1/123.jpg" {
					t.Errorf("Key = %q", got)
				}
				return &s3.PutObjectOutput{}, nil
			},
			want: "https://cdn.example.com/chat-media/c1/123.jpg",
		},
		{
			name: "Error",
			path: "c1/123.jpg",
			put: func(context.Context, *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
				return nil, errors.New("access denied")
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Store{s3: tt.put, publicURL: "https://cdn.example.com"}
			got, err := s.UploadFile(context.Background(), "chat-media", tt.path, strings.NewReader("jpeg"), "image/jpeg")
			if tt.wantErr {
				if err == nil {
					t.Errorf("UploadFile() = %q, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("UploadFile() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("UploadFile() = %q, want %q", got, tt.want)
			}
		})
	}
}
