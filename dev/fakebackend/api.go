package fakebackend

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang/glog"

	"github.com/mqy/minichat/frame"
)

const (
	APIPrefix = "/api/notifications/chat/"
	filesPath = "/files/"

	defaultPageSize = 50
	maxUploadBytes  = 32 << 20
)

type messagePage struct {
	Count    int                  `json:"count"`
	Next     string               `json:"next,omitempty"`
	Previous string               `json:"previous,omitempty"`
	Results  []*frame.WireMessage `json:"results"`
}

type uploadResp struct {
	FileURL  string `json:"file_url"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

type taskResp struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Errorf("fakebackend: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// api serves the request/response contract under APIPrefix.
type api struct {
	srv *Server
}

func (a *api) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if a.srv.apiDown() {
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	uid, err := a.srv.hub.verifier.Verify(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication credentials were not provided")
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, APIPrefix), "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] == "conversations" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{"results": a.srv.hub.listConversations()})
	case len(parts) == 3 && parts[0] == "conversations" && parts[2] == "messages":
		switch r.Method {
		case http.MethodGet:
			a.listMessages(w, r, parts[1])
		case http.MethodPost:
			a.postMessage(w, r, uid, parts[1])
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case len(parts) == 1 && parts[0] == "upload" && r.Method == http.MethodPost:
		a.upload(w, r)
	case len(parts) == 3 && parts[0] == "messages" && parts[2] == "reactions":
		a.reaction(w, r, uid, parts[1])
	case len(parts) == 2 && parts[0] == "presence" && parts[1] == "me" && r.Method == http.MethodPut:
		var p presence
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		a.srv.hub.setPresence(uid, p)
		writeJSON(w, http.StatusOK, p)
	case len(parts) == 2 && parts[0] == "tasks" && r.Method == http.MethodGet:
		status, ok := a.srv.taskStatus(parts[1])
		if !ok {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeJSON(w, http.StatusOK, &taskResp{ID: parts[1], Status: status})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (a *api) listMessages(w http.ResponseWriter, r *http.Request, conv string) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page <= 0 {
		page = 1
	}
	size, _ := strconv.Atoi(q.Get("page_size"))
	if size <= 0 {
		size = defaultPageSize
	}

	all := a.srv.hub.listMessages(conv)
	resp := &messagePage{Count: len(all), Results: []*frame.WireMessage{}}
	start := (page - 1) * size
	if start < len(all) {
		end := start + size
		if end > len(all) {
			end = len(all)
		} else {
			resp.Next = "?page=" + strconv.Itoa(page+1)
		}
		resp.Results = all[start:end]
	}
	if page > 1 {
		resp.Previous = "?page=" + strconv.Itoa(page-1)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) postMessage(w http.ResponseWriter, r *http.Request, uid, conv string) {
	var in frame.WireMessage
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in.ConversationID = frame.ID(conv)
	m := a.srv.hub.createMessage(uid, &in)
	a.srv.hub.broadcast(conv, "", &frame.NewMessage{Message: a.srv.hub.echo(m)})
	writeJSON(w, http.StatusCreated, m)
}

func (a *api) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := a.srv.putFile(hdr.Filename, data)
	writeJSON(w, http.StatusCreated, &uploadResp{
		FileURL:  filesPath + name,
		FileName: hdr.Filename,
		FileSize: int64(len(data)),
	})
}

func (a *api) reaction(w http.ResponseWriter, r *http.Request, uid, msgID string) {
	hub := a.srv.hub
	switch r.Method {
	case http.MethodPost:
		var body struct {
			Emoji string `json:"emoji"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Emoji == "" {
			writeError(w, http.StatusBadRequest, "emoji is required")
			return
		}
		conv, rc, ok := hub.react(msgID, uid, body.Emoji, true)
		if !ok {
			writeError(w, http.StatusBadRequest, "message not found or already reacted")
			return
		}
		hub.broadcast(conv, "", &frame.ReactionAdded{Reaction: rc})
		writeJSON(w, http.StatusCreated, rc)
	case http.MethodDelete:
		conv, rc, ok := hub.react(msgID, uid, r.URL.Query().Get("emoji"), false)
		if !ok {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		hub.broadcast(conv, "", &frame.ReactionRemoved{Reaction: rc})
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
