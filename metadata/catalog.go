package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mohitkumar/agentflow/logger"
	"github.com/mohitkumar/agentflow/model"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Catalog is the file format accepted by `agentflow catalog load`. JSON is
// accepted too since it is valid YAML.
type Catalog struct {
	Agents []model.AgentVersion   `json:"agents"`
	Flows  []model.FlowDefinition `json:"flows"`
}

func ReadCatalog(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("error parsing catalog: %w", err)
	}
	// go through json so json.RawMessage fields and json tags apply
	js, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("error converting catalog: %w", err)
	}
	var catalog Catalog
	if err := json.Unmarshal(js, &catalog); err != nil {
		return nil, fmt.Errorf("error decoding catalog: %w", err)
	}
	return &catalog, nil
}

func ReadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCatalog(f)
}

// Import saves agents before flows so flow validation can see them.
func Import(ctx context.Context, svc Service, catalog *Catalog) error {
	for _, agent := range catalog.Agents {
		if err := svc.SaveAgent(ctx, agent); err != nil {
			return fmt.Errorf("agent %s: %w", agent.Id, err)
		}
		logger.Info("agent version loaded", zap.String("agentVersionId", agent.Id))
	}
	for _, def := range catalog.Flows {
		if err := svc.SaveFlow(ctx, def); err != nil {
			return fmt.Errorf("flow %s: %w", def.Id, err)
		}
		logger.Info("flow definition loaded", zap.String("definitionId", def.Id))
	}
	return nil
}
