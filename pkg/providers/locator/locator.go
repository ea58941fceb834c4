/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package locator resolves a subject hash to the set of data lake partitions
// holding at least one of the subject's rows.
package locator

import (
	"context"
	"fmt"

	athenaprovider "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/providers/athena"

	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/dataset"
	erasureerrors "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/errors"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/logging"
)

type Provider interface {
	FindPartitions(context.Context, string) ([]dataset.Partition, error)
}

type DefaultProvider struct {
	athena   athenaprovider.Provider
	database string
	table    string
}

func NewDefaultProvider(athena athenaprovider.Provider, database, table string) *DefaultProvider {
	return &DefaultProvider{
		athena:   athena,
		database: database,
		table:    table,
	}
}

// FindPartitions returns the ordered list of (year, month, day) partitions
// containing the subject. An empty result is normal and means no rewrites
// are required. The hash is validated before it is interpolated into the
// predicate; the query engine offers no bind parameters for this statement
// shape, so the character-class check is the injection defense.
func (p *DefaultProvider) FindPartitions(ctx context.Context, patientIDHash string) ([]dataset.Partition, error) {
	if err := dataset.ValidateSubjectHash(patientIDHash); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT DISTINCT year, month, day
FROM "%s"."%s"
WHERE patient_id_hash = '%s'
ORDER BY year, month, day`, p.database, p.table, patientIDHash)

	executionID, err := p.athena.Submit(ctx, query)
	if err != nil {
		return nil, erasureerrors.Wrap(erasureerrors.KindLocatorQueryFailed, err)
	}
	rows, err := p.athena.Results(ctx, executionID)
	if err != nil {
		return nil, erasureerrors.Wrap(erasureerrors.KindLocatorQueryFailed, err)
	}

	var partitions []dataset.Partition
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		partitions = append(partitions, dataset.Partition{Year: row[0], Month: row[1], Day: row[2]})
	}
	logging.FromContext(ctx).Infow("located affected partitions", "count", len(partitions))
	return partitions, nil
}
