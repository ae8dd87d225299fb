package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layercake/layercake/pkg/apperr"
	"github.com/layercake/layercake/pkg/model"
)

func TestCreateProject(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewWithPool(mock)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO projects")).
		WithArgs("demo", "", []string{}, "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, description, tags, root_path, created_at, updated_at FROM projects WHERE id=$1")).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "description", "tags", "root_path", "created_at", "updated_at"}).
			AddRow(int64(1), "demo", "", []string{}, "", time.Now(), time.Now()))

	p, err := s.CreateProject(context.Background(), &model.Project{Name: "demo"})
	require.NoError(t, err)
	assert.Equal(t, "demo", p.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProjectNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewWithPool(mock)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, description, tags, root_path, created_at, updated_at FROM projects WHERE id=$1")).
		WithArgs(int64(42)).
		WillReturnError(pgx.ErrNoRows)

	_, err = s.GetProject(context.Background(), 42)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
