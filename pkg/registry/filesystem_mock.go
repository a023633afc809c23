package registry

import "github.com/stretchr/testify/mock"

type fileManagementMock struct {
	mock.Mock
}

func (fm *fileManagementMock) writeSensorsFile(filepath string, data []byte) error {
	args := fm.Called(filepath, data)
	return args.Error(0)
}
