package db

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"milkrun/internal/types"
)

func TestLocationRepository_List(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewLocationRepository(dbMock)
	ctx := context.Background()

	rows := newMockRows([][]any{
		{"Dickman Holsteins", 33.10, -111.90},
		{"Shamrock Farms Dairy", 33.20, -112.10},
	})
	dbMock.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	got, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Dickman Holsteins", got[0].Name)
	assert.Equal(t, 33.10, got[0].Coordinates.Lat)
	assert.Equal(t, -111.90, got[0].Coordinates.Lon)
}

func TestLocationRepository_List_QueryError(t *testing.T) {
	dbMock := new(mockDBTX)
	repo := NewLocationRepository(dbMock)
	ctx := context.Background()

	dbMock.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("connection refused"))

	_, err := repo.List(ctx)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}
