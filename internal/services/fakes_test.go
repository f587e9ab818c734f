package services

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/Lllllllleong/docfidesflow/internal/apperr"
	"github.com/Lllllllleong/docfidesflow/internal/models"
)

// memBlobStore is an in-memory BlobStore.
type memBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{objects: make(map[string][]byte)}
}

func (s *memBlobStore) Put(_ context.Context, key string, data []byte) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *memBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "no object under %s", key)
	}
	return data, nil
}

func (s *memBlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memBlobStore) DeletePrefix(_ context.Context, prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			delete(s.objects, key)
			removed++
		}
	}
	return removed
}

// memStore is an in-memory record store satisfying RegistryStore,
// PipelineStore, and ItemStore.
type memStore struct {
	mu       sync.Mutex
	projects map[string]*models.Project
	docs     map[string]*models.Document
	jobs     map[string]*models.PipelineJob
	items    map[string]*models.LibraryItem
	nextDoc  int

	jobSaves    int
	outputSaves []map[string]any
}

func newMemStore() *memStore {
	return &memStore{
		projects: make(map[string]*models.Project),
		docs:     make(map[string]*models.Document),
		jobs:     make(map[string]*models.PipelineJob),
		items:    make(map[string]*models.LibraryItem),
	}
}

func (s *memStore) EnsureProject(_ context.Context, projectID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[projectID]; !ok {
		s.projects[projectID] = &models.Project{UserID: userID, Status: models.ProjectStatusDraft}
	}
	return nil
}

func (s *memStore) GetProject(_ context.Context, projectID string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "project %s not found", projectID)
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) AdvanceProjectStatus(_ context.Context, projectID, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return apperr.New(apperr.NotFound, "project %s not found", projectID)
	}
	if models.ProjectStatusAdvances(p.Status, to) {
		p.Status = to
	}
	return nil
}

func (s *memStore) ResetProjectStatus(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return apperr.New(apperr.NotFound, "project %s not found", projectID)
	}
	p.Status = models.ProjectStatusUploading
	return nil
}

func (s *memStore) AttachDocument(_ context.Context, projectID string, role models.DocumentRole, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return apperr.New(apperr.NotFound, "project %s not found", projectID)
	}
	switch role {
	case models.RoleTemplate:
		p.TemplateDocument = docID
	case models.RoleModel:
		p.ModelDocuments = append(p.ModelDocuments, docID)
	default:
		p.SourceDocuments = append(p.SourceDocuments, docID)
	}
	return nil
}

func (s *memStore) SaveStageOutput(_ context.Context, projectID string, outputs map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return apperr.New(apperr.NotFound, "project %s not found", projectID)
	}
	for field, value := range outputs {
		switch field {
		case "projectData":
			p.ProjectData = value.(*models.ProjectData)
		case "templateSchema":
			p.TemplateSchema = value.(*models.TemplateSchema)
		case "fieldMap":
			p.FieldMap = value.(*models.FieldMap)
		case "draftPlan":
			p.DraftPlan = value.(*models.DraftPlan)
		case "qualityReport":
			p.QualityReport = value.(*models.QualityReport)
		}
	}
	s.outputSaves = append(s.outputSaves, outputs)
	return nil
}

func (s *memStore) SetProjectJob(_ context.Context, projectID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return apperr.New(apperr.NotFound, "project %s not found", projectID)
	}
	p.PipelineJobID = jobID
	return nil
}

func (s *memStore) CreateDocument(_ context.Context, doc models.Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextDoc++
	id := "doc-" + strconv.Itoa(s.nextDoc)
	s.docs[id] = &doc
	return id, nil
}

func (s *memStore) GetDocument(_ context.Context, docID string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[docID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "document %s not found", docID)
	}
	cp := *d
	return &cp, nil
}

func (s *memStore) CountActiveByRole(_ context.Context, projectID string, role models.DocumentRole) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int
	for _, d := range s.docs {
		if d.ProjectID == projectID && d.Role == string(role) && d.Status != models.DocStatusDeleted {
			count++
		}
	}
	return count, nil
}

func (s *memStore) SetDocumentStatus(_ context.Context, docID, status, errDetails string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[docID]
	if !ok {
		return apperr.New(apperr.NotFound, "document %s not found", docID)
	}
	d.Status = status
	d.ErrorDetails = errDetails
	return nil
}

func (s *memStore) SaveJob(_ context.Context, job *models.PipelineJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	cp.Stages = append([]models.PipelineStageResult(nil), job.Stages...)
	s.jobs[job.ID] = &cp
	s.jobSaves++
	return nil
}

func (s *memStore) GetJob(_ context.Context, jobID string) (*models.PipelineJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "pipeline job %s not found", jobID)
	}
	cp := *j
	cp.Stages = append([]models.PipelineStageResult(nil), j.Stages...)
	return &cp, nil
}

func (s *memStore) GetLibraryItem(_ context.Context, itemID string) (*models.LibraryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "library item %s not found", itemID)
	}
	cp := *item
	return &cp, nil
}

func (s *memStore) SetItemProcessing(_ context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return apperr.New(apperr.NotFound, "library item %s not found", itemID)
	}
	item.Status = models.ItemStatusProcessing
	item.ErrorDetails = ""
	return nil
}

func (s *memStore) SetItemReady(_ context.Context, itemID string, profile *models.AssetProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return apperr.New(apperr.NotFound, "library item %s not found", itemID)
	}
	item.Status = models.ItemStatusReady
	item.ProcessedData = profile
	return nil
}

func (s *memStore) SetItemError(_ context.Context, itemID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return apperr.New(apperr.NotFound, "library item %s not found", itemID)
	}
	item.Status = models.ItemStatusError
	item.ErrorDetails = message
	item.Attempts++
	return nil
}

// scriptedInvoker replays canned responses in call order and records the
// prompts it was given.
type scriptedInvoker struct {
	mu      sync.Mutex
	script  []scriptedReply
	calls   int
	prompts []string
}

type scriptedReply struct {
	text string
	err  error
}

func (m *scriptedInvoker) Generate(_ context.Context, prompt string, _ []models.Attachment) (string, models.TokenUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reply := m.script[len(m.script)-1]
	if m.calls < len(m.script) {
		reply = m.script[m.calls]
	}
	m.calls++
	m.prompts = append(m.prompts, prompt)
	if reply.err != nil {
		return "", models.TokenUsage{}, reply.err
	}
	return reply.text, models.TokenUsage{PromptTokens: 100, OutputTokens: 50}, nil
}

// passthroughRenderer hands the raw bytes straight through as one payload.
type passthroughRenderer struct{}

func (passthroughRenderer) RenderPages(data []byte, mimeType string) ([]models.Attachment, int, error) {
	return []models.Attachment{{MIMEType: mimeType, Data: data}}, 1, nil
}
