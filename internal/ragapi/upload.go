package ragapi

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/hyperjump/intellilearn/internal/models"
)

// UploadDocument streams content as the multipart field "file" to POST /upload.
// The returned response always carries a document id; a missing id is a ProtocolError.
func (c *Client) UploadDocument(ctx context.Context, userID, topicID, fileName string, content io.Reader) (*models.UploadResponse, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, content); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(mw.Close())
	}()

	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("topic_id", topicID)
	var out models.UploadResponse
	err := c.do(ctx, request{
		op:          "Upload",
		method:      http.MethodPost,
		path:        "/upload",
		query:       q,
		body:        pr,
		contentType: mw.FormDataContentType(),
		out:         &out,
	})
	_ = pr.Close()
	if err != nil {
		return nil, err
	}
	return &out, nil
}
